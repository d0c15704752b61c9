package client

import (
	"context"
	"sort"

	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/cryptalk/go-cryptalk-server/util"
)

// CreateConversation draws one fresh AES-256 conversation key, wraps it for
// every participant (creator included) and stores the conversation in a single
// write. All-or-nothing: if any participant has no published public key the
// call fails with types.ErrKeyNotFound and nothing is persisted — there is no
// partial conversation a subset of participants could use.
func (s *Session) CreateConversation(ctx context.Context, participants []string, name string) (*types.Conversation, error) {
	if s.isClosed() {
		return nil, types.ErrNotAuthenticated
	}

	// the creator always participates
	unique := map[string]bool{s.UserID: true}
	for _, p := range participants {
		if p != "" {
			unique[p] = true
		}
	}
	all := make([]string, 0, len(unique))
	for p := range unique {
		all = append(all, p)
	}
	sort.Strings(all)

	// resolve every public key before generating any key material
	pubKeys := make(map[string]string, len(all))
	for _, userID := range all {
		envelope, err := s.apiClient.GetPublicKey(ctx, userID)
		if err != nil {
			if err == types.ErrNotFound || err == types.ErrKeyNotFound {
				return nil, types.ErrKeyNotFound
			}
			return nil, err
		}
		pubKeys[userID] = envelope
	}

	conversationKey, err := util.NewConversationKey()
	if err != nil {
		return nil, err
	}

	wrappedKeys := make(map[string]string, len(all))
	for _, userID := range all {
		pub, pErr := util.ImportPublicKey(pubKeys[userID])
		if pErr != nil {
			return nil, pErr
		}
		wrapped, wErr := s.crypter.WrapKey(pub, conversationKey)
		if wErr != nil {
			return nil, wErr
		}
		envelope, eErr := types.EncodeKeyEnvelope(types.AlgRSAOAEP256, wrapped)
		if eErr != nil {
			return nil, eErr
		}
		wrappedKeys[userID] = envelope
	}

	conversation, err := s.apiClient.CreateConversation(ctx, &types.InputCreateConversation{
		Participants: all,
		WrappedKeys:  wrappedKeys,
		Name:         name,
	})
	if err != nil {
		return nil, err
	}

	// the creator can encrypt immediately without a round trip
	s.keyCache.Put(conversation.ConversationID, conversationKey)
	return conversation, nil
}

// ResolveConversationKey returns the symmetric key for a conversation: cache
// first, otherwise unwrap the caller's wrapped-key entry with the identity
// private key and cache the result. types.ErrNotAParticipant when the caller
// has no entry.
func (s *Session) ResolveConversationKey(ctx context.Context, conversationID string) ([]byte, error) {
	if s.isClosed() {
		return nil, types.ErrNotAuthenticated
	}

	if key := s.keyCache.Get(conversationID); key != nil {
		return key, nil
	}

	conversation, err := s.apiClient.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	envelope, ok := conversation.WrappedKeys[s.UserID]
	if !ok {
		return nil, types.ErrNotAParticipant
	}
	wrapped, err := types.DecodeKeyEnvelope(envelope, types.AlgRSAOAEP256)
	if err != nil {
		return nil, types.ErrDecryptionFailed
	}
	key, err := s.crypter.UnwrapKey(s.identity, wrapped)
	if err != nil {
		return nil, types.ErrDecryptionFailed
	}
	s.keyCache.Put(conversationID, key)
	return key, nil
}

// WrapConversationKey wraps raw key bytes for a single recipient envelope.
// Exposed for key material tooling; CreateConversation uses the same path.
func WrapConversationKey(publicKeyEnvelope string, key []byte) (string, error) {
	pub, err := util.ImportPublicKey(publicKeyEnvelope)
	if err != nil {
		return "", err
	}
	wrapped, err := util.WrapKey(pub, key)
	if err != nil {
		return "", err
	}
	return types.EncodeKeyEnvelope(types.AlgRSAOAEP256, wrapped)
}
