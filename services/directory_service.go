package services

import (
	"context"
	"time"

	"github.com/cryptalk/go-cryptalk-server/global"
	"github.com/cryptalk/go-cryptalk-server/metrics"
	"github.com/cryptalk/go-cryptalk-server/repository"
	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/cryptalk/go-cryptalk-server/util"
)

// DirectoryService owns the public key directory: userId -> published public
// key envelope. Upsert-only; the private half of any key never reaches this
// service.
type DirectoryService struct {
	publicKeyRepo repository.Repository
}

func NewDirectoryService(dbSelector repository.DBSelector) *DirectoryService {
	publicKeyRepo, err := dbSelector.ChooseDB(repository.PublicKeys)
	if err != nil {
		panic(err)
	}
	return &DirectoryService{publicKeyRepo: publicKeyRepo}
}

// GetPublicKey returns the published key record for a user id.
// types.ErrNotFound when the user never published a key.
func (ds *DirectoryService) GetPublicKey(userID string) (*types.PublicKeyRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	resp, err := ds.publicKeyRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	var record types.PublicKeyRecord
	mErr := repository.MapToObject(resp, &record)
	if mErr != nil {
		return nil, mErr
	}
	return &record, nil
}

// PublishPublicKey upserts the exported public key for a user id. The envelope
// must parse as a 2048-bit RSA public key with e=65537 before anything is
// stored. A revision
// conflict surfaces as types.ErrConflict so the caller can retry (publication
// is best-effort, never fatal).
func (ds *DirectoryService) PublishPublicKey(userID string, publicKeyB64 string) (*types.PublicKeyRecord, error) {
	pub, err := util.ImportPublicKey(publicKeyB64)
	if err != nil {
		return nil, types.ErrInvalidPublicKey
	}
	// a published key is the trust root for login and key wrapping; only
	// 2048-bit keys with the standard exponent are accepted
	if pub.N.BitLen() != 2048 || pub.E != 65537 {
		return nil, types.ErrInvalidPublicKey
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	now := time.Now().UTC().UnixMilli()
	record := &types.PublicKeyRecord{
		UserID:       userID,
		PublicKeyB64: publicKeyB64,
		Created:      now,
	}

	existing, eErr := ds.GetPublicKey(userID)
	if eErr != nil && eErr != types.ErrNotFound {
		return nil, eErr
	}
	if existing != nil {
		record.BaseDocument = existing.BaseDocument
		record.Created = existing.Created
		record.Modified = now
	}

	if err := ds.publicKeyRepo.Save(ctx, userID, record); err != nil {
		global.Logger.Log("DirectoryService.PublishPublicKey", "failed to save", err.Error())
		return nil, err
	}
	metrics.KeysPublishedMetricsCount.Inc()
	global.Logger.Log("publishedKey", util.KeyFingerprint(publicKeyB64), "userId", userID)
	return record, nil
}
