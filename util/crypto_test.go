package util

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/tj/assert"
)

func TestGenerateIdentityKeyPair(t *testing.T) {
	priv, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if priv.N.BitLen() != IdentityKeyBits {
		t.Fatalf("expected %d bit modulus, got %d", IdentityKeyBits, priv.N.BitLen())
	}
	if priv.E != 65537 {
		t.Fatalf("expected public exponent 65537, got %d", priv.E)
	}
}

func TestExportImportPublicKey(t *testing.T) {
	priv, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	envelope, err := ExportPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	imported, err := ImportPublicKey(envelope)
	if err != nil {
		t.Fatal(err)
	}
	if imported.N.Cmp(priv.PublicKey.N) != 0 || imported.E != priv.PublicKey.E {
		t.Fatal("imported key differs from exported key")
	}
}

func TestImportPublicKeyRejectsGarbage(t *testing.T) {
	if _, err := ImportPublicKey("not base64!!"); err != types.ErrInvalidPublicKey {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}
	// valid base64 but not a key envelope
	garbage := base64.StdEncoding.EncodeToString([]byte("garbage"))
	if _, err := ImportPublicKey(garbage); err != types.ErrInvalidPublicKey {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	priv, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	der, err := MarshalPrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParsePrivateKey(der)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.D.Cmp(priv.D) != 0 {
		t.Fatal("parsed private key differs")
	}
}

func TestWrapUnwrapKey(t *testing.T) {
	priv, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	key, err := NewConversationKey()
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != ConversationKeySize {
		t.Fatalf("expected %d byte key, got %d", ConversationKeySize, len(key))
	}
	wrapped, err := WrapKey(&priv.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(wrapped, key) {
		t.Fatal("wrapped key leaks raw key bytes")
	}
	unwrapped, err := UnwrapKey(priv, wrapped)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, key, unwrapped)
}

func TestUnwrapWithWrongKeyFails(t *testing.T) {
	alice, _ := GenerateIdentityKeyPair()
	mallory, _ := GenerateIdentityKeyPair()
	key, _ := NewConversationKey()
	wrapped, err := WrapKey(&alice.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnwrapKey(mallory, wrapped); err == nil {
		t.Fatal("unwrap with the wrong private key must fail")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, _ := NewConversationKey()
	plaintext := []byte("the meeting moved to 4pm")

	ciphertext, iv, err := EncryptAESGCM(key, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if len(iv) != GCMNonceSize {
		t.Fatalf("expected %d byte iv, got %d", GCMNonceSize, len(iv))
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatal("ciphertext contains plaintext")
	}
	decrypted, err := DecryptAESGCM(key, ciphertext, iv)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	key, _ := NewConversationKey()
	plaintext := []byte("same text twice")

	ct1, iv1, err := EncryptAESGCM(key, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	ct2, iv2, err := EncryptAESGCM(key, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(iv1, iv2) {
		t.Fatal("iv repeated across encryptions")
	}
	if bytes.Equal(ct1, ct2) {
		t.Fatal("ciphertext repeated across encryptions")
	}
}

func TestDecryptDetectsTampering(t *testing.T) {
	key, _ := NewConversationKey()
	ciphertext, iv, err := EncryptAESGCM(key, []byte("wire transfer to account 7"))
	if err != nil {
		t.Fatal(err)
	}

	// flip one bit anywhere in the ciphertext
	for _, pos := range []int{0, len(ciphertext) / 2, len(ciphertext) - 1} {
		tampered := make([]byte, len(ciphertext))
		copy(tampered, ciphertext)
		tampered[pos] ^= 0x01
		if _, dErr := DecryptAESGCM(key, tampered, iv); dErr != types.ErrDecryptionFailed {
			t.Fatalf("bit flip at %d: expected ErrDecryptionFailed, got %v", pos, dErr)
		}
	}

	// flip one bit in the iv
	badIV := make([]byte, len(iv))
	copy(badIV, iv)
	badIV[0] ^= 0x01
	if _, dErr := DecryptAESGCM(key, ciphertext, badIV); dErr != types.ErrDecryptionFailed {
		t.Fatalf("iv bit flip: expected ErrDecryptionFailed, got %v", dErr)
	}

	// wrong iv length
	if _, dErr := DecryptAESGCM(key, ciphertext, iv[:8]); dErr != types.ErrDecryptionFailed {
		t.Fatalf("short iv: expected ErrDecryptionFailed, got %v", dErr)
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	key1, _ := NewConversationKey()
	key2, _ := NewConversationKey()
	ciphertext, iv, err := EncryptAESGCM(key1, []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, dErr := DecryptAESGCM(key2, ciphertext, iv); dErr != types.ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed, got %v", dErr)
	}
}

func TestSignVerifyPSS(t *testing.T) {
	priv, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	nonce := []byte(GenerateNonce(64))
	signature, err := SignPSS(priv, nonce)
	if err != nil {
		t.Fatal(err)
	}
	if vErr := VerifyPSS(&priv.PublicKey, nonce, signature); vErr != nil {
		t.Fatal(vErr)
	}
	// a different message must not verify
	if vErr := VerifyPSS(&priv.PublicKey, []byte("other nonce"), signature); vErr != types.ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", vErr)
	}
	// a different key must not verify
	other, _ := GenerateIdentityKeyPair()
	if vErr := VerifyPSS(&other.PublicKey, nonce, signature); vErr != types.ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", vErr)
	}
}

func TestGenerateKeyPair(t *testing.T) {

	pub, priv, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatal(err)
	}
	pubKey, kErr := base64.StdEncoding.DecodeString(*pub)
	if kErr != nil {
		t.Fatal(kErr)
	}
	privKey, kErr := base64.StdEncoding.DecodeString(*priv)
	if kErr != nil {
		t.Fatal(kErr)
	}
	if len(pubKey) != 32 {
		t.Fatal("invalid public key length")
	}
	if len(privKey) != 64 {
		t.Fatal("invalid private key length")
	}
}

func TestGenerateNonce(t *testing.T) {
	nonce := GenerateNonce(64)
	if len(nonce) != 64 {
		t.Fatal("invalid nonce length")
	}
}
