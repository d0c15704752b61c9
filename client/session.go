package client

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"sync"

	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/cryptalk/go-cryptalk-server/util"
)

// Session is the explicit per-login context: user id, identity key pair, the
// key cache and the API client. Everything that touches key material takes the
// session as a receiver instead of reaching for package state, so tests can
// run many sessions side by side and logout is a single Close call.
type Session struct {
	UserID string

	apiClient *Client
	identity  *rsa.PrivateKey
	keyCache  *SessionKeyCache
	cipher    *MessageCipher
	crypter   Crypter

	mu     sync.Mutex
	closed bool
}

// Login performs the challenge-response handshake and returns an open session.
// The identity key is loaded (or created) from the keystore first; a user with
// no directory entry yet is registered through the public endpoint before the
// challenge is requested, since login verifies against the published key.
func Login(ctx context.Context, apiClient *Client, identityService *IdentityKeyService, userID string) (*Session, error) {
	return loginWithCrypter(ctx, apiClient, identityService, userID, NewCrypter())
}

// loginWithCrypter lets tests inject an instrumented Crypter
func loginWithCrypter(ctx context.Context, apiClient *Client, identityService *IdentityKeyService, userID string, crypter Crypter) (*Session, error) {
	identity, err := identityService.GetOrCreateIdentityKeyPair()
	if err != nil {
		return nil, err
	}

	// first contact: the keys upsert endpoint requires a session, so the
	// first publication goes through registration. A conflict means another
	// device won the race; login will verify against that key.
	if _, dErr := apiClient.GetPublicKey(ctx, userID); dErr != nil {
		if dErr != types.ErrKeyNotFound {
			return nil, dErr
		}
		envelope, eErr := identityService.ExportPublicKey()
		if eErr != nil {
			return nil, eErr
		}
		rErr := apiClient.Register(ctx, &types.InputRegister{UserID: userID, PublicKeyB64: envelope})
		if rErr != nil && rErr != types.ErrConflict {
			return nil, rErr
		}
	}

	nonce, err := apiClient.GetNonce(ctx)
	if err != nil {
		return nil, err
	}
	signature, err := util.SignPSS(identity, []byte(nonce))
	if err != nil {
		return nil, err
	}
	out, err := apiClient.Login(ctx, &types.InputLogin{
		UserID:          userID,
		Nonce:           nonce,
		SignatureBase64: base64.StdEncoding.EncodeToString(signature),
	})
	if err != nil {
		return nil, err
	}
	apiClient.SetToken(out.Token)

	// best effort; the directory already holds a key for this user, so a
	// failed re-publication over the authenticated upsert never blocks login
	_ = identityService.PublishPublicKey(ctx, apiClient, userID)

	return &Session{
		UserID:    userID,
		apiClient: apiClient,
		identity:  identity,
		keyCache:  NewSessionKeyCache(),
		cipher:    NewMessageCipher(crypter),
		crypter:   crypter,
	}, nil
}

// KeyCache exposes the session cache (read side used by tests and diagnostics)
func (s *Session) KeyCache() *SessionKeyCache {
	return s.keyCache
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close tears the session down: the key cache is zeroized and the identity
// key reference dropped together, so a logged-out session can decrypt nothing.
// Safe to call twice.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.keyCache.Clear()
	s.identity = nil
	s.apiClient.SetToken("")
}
