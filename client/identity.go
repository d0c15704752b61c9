package client

import (
	"context"
	"crypto/rsa"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/cryptalk/go-cryptalk-server/util"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/scrypt"
)

const (
	keystoreVersion = 1

	// interactive-login scrypt cost (N, r, p)
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	scryptSalt   = 16
)

// keystoreFile is the on-disk envelope for the identity private key. The key
// itself is PKCS#8 DER sealed with AES-256-GCM under a key derived from the
// user's passphrase; the plaintext private key never touches the disk.
type keystoreFile struct {
	Version    int    `cbor:"v"`
	Salt       []byte `cbor:"salt"`
	IV         []byte `cbor:"iv"`
	Ciphertext []byte `cbor:"ct"`
	Created    int64  `cbor:"created"`
}

// IdentityKeyService owns the device's RSA identity key pair: lazy creation,
// encrypted local persistence and directory publication. One instance per
// device profile.
type IdentityKeyService struct {
	keystorePath string
	passphrase   []byte

	mu  sync.Mutex
	key *rsa.PrivateKey
}

func NewIdentityKeyService(keystorePath string, passphrase []byte) *IdentityKeyService {
	return &IdentityKeyService{
		keystorePath: keystorePath,
		passphrase:   passphrase,
	}
}

// GetOrCreateIdentityKeyPair returns the device identity key, loading it from
// the keystore or generating and persisting a fresh pair on first use.
func (iks *IdentityKeyService) GetOrCreateIdentityKeyPair() (*rsa.PrivateKey, error) {
	iks.mu.Lock()
	defer iks.mu.Unlock()

	if iks.key != nil {
		return iks.key, nil
	}

	key, err := iks.loadKeystore()
	if err == nil {
		iks.key = key
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	key, err = util.GenerateIdentityKeyPair()
	if err != nil {
		return nil, err
	}
	if err := iks.saveKeystore(key); err != nil {
		return nil, err
	}
	iks.key = key
	return key, nil
}

// ExportPublicKey returns the directory envelope for the device's public key
func (iks *IdentityKeyService) ExportPublicKey() (string, error) {
	key, err := iks.GetOrCreateIdentityKeyPair()
	if err != nil {
		return "", err
	}
	return util.ExportPublicKey(&key.PublicKey)
}

// PublishPublicKey pushes the public half to the directory. Best effort: the
// caller may retry later, the local key pair stays usable either way.
func (iks *IdentityKeyService) PublishPublicKey(ctx context.Context, apiClient *Client, userID string) error {
	envelope, err := iks.ExportPublicKey()
	if err != nil {
		return err
	}
	return apiClient.PublishPublicKey(ctx, userID, envelope)
}

// Forget drops the in-memory private key reference. The keystore file stays;
// the next GetOrCreateIdentityKeyPair call reloads it.
func (iks *IdentityKeyService) Forget() {
	iks.mu.Lock()
	defer iks.mu.Unlock()
	iks.key = nil
}

func (iks *IdentityKeyService) loadKeystore() (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(iks.keystorePath)
	if err != nil {
		return nil, err
	}
	var file keystoreFile
	if err := cbor.Unmarshal(raw, &file); err != nil {
		return nil, types.ErrDecryptionFailed
	}
	if file.Version != keystoreVersion {
		return nil, types.ErrDecryptionFailed
	}
	aesKey, err := scrypt.Key(iks.passphrase, file.Salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, err
	}
	der, err := util.DecryptAESGCM(aesKey, file.Ciphertext, file.IV)
	if err != nil {
		return nil, err
	}
	return util.ParsePrivateKey(der)
}

func (iks *IdentityKeyService) saveKeystore(key *rsa.PrivateKey) error {
	der, err := util.MarshalPrivateKey(key)
	if err != nil {
		return err
	}
	salt, err := util.RandomBytes(scryptSalt)
	if err != nil {
		return err
	}
	aesKey, err := scrypt.Key(iks.passphrase, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return err
	}
	ciphertext, iv, err := util.EncryptAESGCM(aesKey, der)
	if err != nil {
		return err
	}
	file := keystoreFile{
		Version:    keystoreVersion,
		Salt:       salt,
		IV:         iv,
		Ciphertext: ciphertext,
		Created:    time.Now().UnixMilli(),
	}
	payload, err := cbor.Marshal(&file)
	if err != nil {
		return err
	}
	return os.WriteFile(iks.keystorePath, payload, 0600)
}
