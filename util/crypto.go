package util

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"io"
	src "math/rand"

	"github.com/cryptalk/go-cryptalk-server/types"
)

const (
	// RSA-OAEP 2048 bit with SHA-256, public exponent 65537 (Go default)
	IdentityKeyBits = 2048

	// AES-256-GCM
	ConversationKeySize = 32
	GCMNonceSize        = 12
)

// GenerateIdentityKeyPair generates a new RSA identity key pair used to wrap
// and unwrap conversation keys
func GenerateIdentityKeyPair() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, IdentityKeyBits)
}

// ExportPublicKey serializes the public half into the versioned base64 envelope
// published to the directory. Only ever called with the public half.
func ExportPublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return types.EncodeKeyEnvelope(types.AlgRSA2048PKIX, der)
}

// ImportPublicKey parses a directory envelope back into a public key
func ImportPublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := types.DecodeKeyEnvelope(encoded, types.AlgRSA2048PKIX)
	if err != nil {
		return nil, types.ErrInvalidPublicKey
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, types.ErrInvalidPublicKey
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, types.ErrInvalidPublicKey
	}
	return rsaPub, nil
}

// MarshalPrivateKey serializes the private key (PKCS#8) for the local keystore.
// The result must never leave the device unencrypted.
func MarshalPrivateKey(priv *rsa.PrivateKey) ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(priv)
}

// ParsePrivateKey reverses MarshalPrivateKey
func ParsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, types.ErrInvalidPublicKey
	}
	return rsaKey, nil
}

// NewConversationKey draws a fresh random AES-256 key
func NewConversationKey() ([]byte, error) {
	key := make([]byte, ConversationKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// WrapKey encrypts raw symmetric key bytes under a participant's public key
// (RSA-OAEP with SHA-256)
func WrapKey(pub *rsa.PublicKey, key []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
}

// UnwrapKey recovers the raw symmetric key bytes with the local private key
func UnwrapKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
}

// EncryptAESGCM seals plaintext under the conversation key. The nonce is drawn
// from crypto/rand on every call; a (key, iv) pair must never repeat, so the iv
// is never derived from content or counters. The returned ciphertext carries
// the GCM authentication tag.
func EncryptAESGCM(key []byte, plaintext []byte) (ciphertext []byte, iv []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, GCMNonceSize)
	if _, err = io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, err
	}
	ciphertext = aead.Seal(nil, iv, plaintext, nil)
	return ciphertext, iv, nil
}

// DecryptAESGCM opens a sealed message and verifies the authentication tag.
// Any tag mismatch surfaces as ErrDecryptionFailed; altered plaintext is never
// returned.
func DecryptAESGCM(key []byte, ciphertext []byte, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(iv) != aead.NonceSize() {
		return nil, types.ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, types.ErrDecryptionFailed
	}
	return plaintext, nil
}

// SignPSS signs a login challenge with the identity private key (RSA-PSS, SHA-256)
func SignPSS(priv *rsa.PrivateKey, message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	return rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], nil)
}

// VerifyPSS verifies a login challenge signature against a published public key
func VerifyPSS(pub *rsa.PublicKey, message []byte, signature []byte) error {
	digest := sha256.Sum256(message)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, nil); err != nil {
		return types.ErrInvalidSignature
	}
	return nil
}

// Generated ed25519 signing key pair and returns base64 public key, private key
// returns publicKey, privateKey, error
func GenerateEd25519KeyPair() (*string, *string, error) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, err
	}

	pubKeyBase64 := base64.StdEncoding.EncodeToString(pubKey)
	privKeyBase64 := base64.StdEncoding.EncodeToString(privKey)
	return &pubKeyBase64, &privKeyBase64, nil
}

// RandomBytes draws n bytes from crypto/rand
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Sha256Hex returns the sha256 hash of the data as a hex string
func Sha256Hex(data []byte) string {
	hash := sha256.New()
	hash.Write(data)
	sum := hash.Sum(nil)
	return hex.EncodeToString(sum)
}

// KeyFingerprint is a short loggable identifier for a published key envelope;
// safe to log since it derives from public material only
func KeyFingerprint(publicKeyB64 string) string {
	return Sha256Hex([]byte(publicKeyB64))[:16]
}

const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
const (
	letterIdxBits = 6                    // 6 bits to represent a letter index
	letterIdxMask = 1<<letterIdxBits - 1 // All 1-bits, as many as letterIdxBits
	letterIdxMax  = 63 / letterIdxBits   // # of letter indices fitting in 63 bits
)

// Generates a random nonce of custom length in bytes
// method based on https://stackoverflow.com/questions/22892120/how-to-generate-a-random-string-of-a-fixed-length-in-go
// 5. Masking improved version
func GenerateNonce(n int) string {
	b := make([]byte, n)
	// A src.Int63() generates 63 random bits, enough for letterIdxMax characters!
	for i, cache, remain := n-1, src.Int63(), letterIdxMax; i >= 0; {
		if remain == 0 {
			cache, remain = src.Int63(), letterIdxMax
		}
		if idx := int(cache & letterIdxMask); idx < len(letterBytes) {
			b[i] = letterBytes[idx]
			i--
		}
		cache >>= letterIdxBits
		remain--
	}

	return string(b)
}
