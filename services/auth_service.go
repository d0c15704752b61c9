package services

import (
	"encoding/base64"
	"time"

	"github.com/cryptalk/go-cryptalk-server/global"
	"github.com/cryptalk/go-cryptalk-server/repository"
	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/cryptalk/go-cryptalk-server/util"
)

// AuthService proves possession of the identity private key: the user signs a
// single-use server nonce with RSA-PSS and the signature is checked against
// the public key published in the directory. The server never sees the
// private key; a valid signature is the whole login.
type AuthService struct {
	directoryService *DirectoryService
	nonceService     *NonceService
}

func NewAuthService(dbSelector repository.DBSelector) *AuthService {
	return &AuthService{
		directoryService: NewDirectoryService(dbSelector),
		nonceService:     NewNonceService(dbSelector),
	}
}

// Register publishes the first public key for a user id. Re-registering is an
// upsert (publication is upsert-only by design).
func (as *AuthService) Register(input *types.InputRegister) (*types.PublicKeyRecord, error) {
	return as.directoryService.PublishPublicKey(input.UserID, input.PublicKeyB64)
}

// VerifyLogin checks the challenge signature and consumes the nonce.
// Returns types.ErrInvalidSignature or types.ErrNotFound (unknown nonce or
// unpublished key) on failure.
func (as *AuthService) VerifyLogin(input *types.InputLogin) error {
	foundNonce, fnErr := as.nonceService.GetNonce(input.Nonce)
	if fnErr != nil {
		return fnErr
	}

	expiryMinutes := global.Conf.Cryptalk.NonceExpiryMinutes
	if expiryMinutes <= 0 {
		expiryMinutes = 5
	}
	oldest := time.Now().UTC().UnixMilli() - int64(expiryMinutes)*60*1000
	if foundNonce.Created < oldest {
		return types.ErrInvalidSignature
	}

	record, rErr := as.directoryService.GetPublicKey(input.UserID)
	if rErr != nil {
		return rErr
	}
	pub, pErr := util.ImportPublicKey(record.PublicKeyB64)
	if pErr != nil {
		return pErr
	}

	signature, sErr := base64.StdEncoding.DecodeString(input.SignatureBase64)
	if sErr != nil {
		return types.ErrBadRequest
	}
	if vErr := util.VerifyPSS(pub, []byte(foundNonce.Nonce), signature); vErr != nil {
		return vErr
	}

	// single use
	if dErr := as.nonceService.DeleteNonce(foundNonce.Nonce); dErr != nil {
		global.Logger.Log("AuthService.VerifyLogin", "failed to delete nonce", dErr.Error())
	}
	return nil
}
