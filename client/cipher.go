package client

import (
	"crypto/rsa"
	"encoding/base64"

	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/cryptalk/go-cryptalk-server/util"
)

// Crypter is the crypto capability a session depends on. An implementation
// must be stateless between calls; the default one delegates straight to the
// primitives in util.
type Crypter interface {
	WrapKey(pub *rsa.PublicKey, key []byte) ([]byte, error)
	UnwrapKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error)
	Encrypt(key []byte, plaintext []byte) (ciphertext []byte, iv []byte, err error)
	Decrypt(key []byte, ciphertext []byte, iv []byte) ([]byte, error)
}

type stdCrypter struct{}

// NewCrypter returns the default Crypter backed by RSA-OAEP and AES-256-GCM
func NewCrypter() Crypter {
	return stdCrypter{}
}

func (stdCrypter) WrapKey(pub *rsa.PublicKey, key []byte) ([]byte, error) {
	return util.WrapKey(pub, key)
}

func (stdCrypter) UnwrapKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	return util.UnwrapKey(priv, wrapped)
}

func (stdCrypter) Encrypt(key []byte, plaintext []byte) ([]byte, []byte, error) {
	return util.EncryptAESGCM(key, plaintext)
}

func (stdCrypter) Decrypt(key []byte, ciphertext []byte, iv []byte) ([]byte, error) {
	return util.DecryptAESGCM(key, ciphertext, iv)
}

// MessageCipher seals and opens message payloads with a conversation key.
// It never touches the network or any store.
type MessageCipher struct {
	crypter Crypter
}

func NewMessageCipher(crypter Crypter) *MessageCipher {
	return &MessageCipher{crypter: crypter}
}

// EncryptMessage seals plaintext under the conversation key. A fresh random iv
// is drawn inside the crypter on every call, so encrypting the same text twice
// yields different ciphertext.
func (mc *MessageCipher) EncryptMessage(key []byte, plaintext string) (ciphertextB64 string, ivB64 string, err error) {
	ciphertext, iv, err := mc.crypter.Encrypt(key, []byte(plaintext))
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), base64.StdEncoding.EncodeToString(iv), nil
}

// DecryptMessage opens a sealed message. Any corruption of ciphertext or iv,
// and any wrong key, surfaces as types.ErrDecryptionFailed; no partial
// plaintext is ever returned.
func (mc *MessageCipher) DecryptMessage(key []byte, ciphertextB64 string, ivB64 string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", types.ErrDecryptionFailed
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return "", types.ErrDecryptionFailed
	}
	plaintext, err := mc.crypter.Decrypt(key, ciphertext, iv)
	if err != nil {
		return "", types.ErrDecryptionFailed
	}
	return string(plaintext), nil
}
