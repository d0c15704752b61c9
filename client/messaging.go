package client

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cryptalk/go-cryptalk-server/global"
	"github.com/cryptalk/go-cryptalk-server/types"
)

// placeholder rendered in place of a message whose authentication tag failed.
// The raw ciphertext is never surfaced.
const decryptionFailedPlaceholder = "[message could not be decrypted]"

// SendMessage encrypts text under the conversation key and appends the
// ciphertext. Encryption happens strictly before any network write; if the
// key cannot be resolved or sealing fails, nothing leaves the device.
func (s *Session) SendMessage(ctx context.Context, conversationID string, text string) (*types.EncryptedMessage, error) {
	key, err := s.ResolveConversationKey(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ciphertextB64, ivB64, err := s.cipher.EncryptMessage(key, text)
	if err != nil {
		return nil, err
	}
	return s.apiClient.AppendMessage(ctx, conversationID, &types.InputAppendMessage{
		Ciphertext: ciphertextB64,
		IV:         ivB64,
		Created:    time.Now().UTC().UnixMilli(),
	})
}

// LoadMessages fetches and decrypts the stored history of a conversation,
// oldest to newest. A message that fails to decrypt becomes a placeholder
// entry with Failed set; one bad message never hides the rest.
func (s *Session) LoadMessages(ctx context.Context, conversationID string, since int64) ([]*types.DecryptedMessage, error) {
	key, err := s.ResolveConversationKey(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	stored, err := s.apiClient.ListMessages(ctx, conversationID, since)
	if err != nil {
		return nil, err
	}
	decrypted := make([]*types.DecryptedMessage, 0, len(stored))
	for _, m := range stored {
		decrypted = append(decrypted, s.decryptOne(key, m))
	}
	return decrypted, nil
}

func (s *Session) decryptOne(key []byte, m *types.EncryptedMessage) *types.DecryptedMessage {
	out := &types.DecryptedMessage{
		MessageID:      m.MessageID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Created:        m.Created,
	}
	text, err := s.cipher.DecryptMessage(key, m.Ciphertext, m.IV)
	if err != nil {
		out.Text = decryptionFailedPlaceholder
		out.Failed = true
		return out
	}
	out.Text = text
	return out
}

// SubscribeToMessages opens a live subscription on a conversation. Each stored
// or newly arriving message is decrypted and handed to onMessage in order.
// The returned cancel func tears the stream down; the call itself returns
// once the subscription is established.
func (s *Session) SubscribeToMessages(ctx context.Context, conversationID string, since int64, onMessage func(*types.DecryptedMessage)) (context.CancelFunc, error) {
	key, err := s.ResolveConversationKey(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	go func() {
		sErr := s.apiClient.listenSSE(streamCtx, "/api/v1/conversations/"+conversationID+"/events?since="+strconv.FormatInt(since, 10), func(event, data string) {
			if event != "batch" {
				return
			}
			batch, dErr := decodeBatch(data)
			if dErr != nil {
				global.Logger.Log("client.SubscribeToMessages", "bad event payload", dErr.Error())
				return
			}
			for _, m := range batch.Messages {
				onMessage(s.decryptOne(key, m))
			}
		})
		if sErr != nil && streamCtx.Err() == nil {
			global.Logger.Log("client.SubscribeToMessages", "stream closed", sErr.Error())
		}
	}()
	return cancel, nil
}

// SubscribeToConversationList opens a live subscription on the caller's
// conversation list; onConversation fires once per new conversation the
// caller was added to.
func (s *Session) SubscribeToConversationList(ctx context.Context, onConversation func(*types.Conversation)) (context.CancelFunc, error) {
	if s.isClosed() {
		return nil, types.ErrNotAuthenticated
	}

	streamCtx, cancel := context.WithCancel(ctx)
	go func() {
		sErr := s.apiClient.listenSSE(streamCtx, "/api/v1/events", func(event, data string) {
			if event != "conversation" {
				return
			}
			var conversation types.Conversation
			if dErr := json.Unmarshal([]byte(data), &conversation); dErr != nil {
				global.Logger.Log("client.SubscribeToConversationList", "bad event payload", dErr.Error())
				return
			}
			onConversation(&conversation)
		})
		if sErr != nil && streamCtx.Err() == nil {
			global.Logger.Log("client.SubscribeToConversationList", "stream closed", sErr.Error())
		}
	}()
	return cancel, nil
}

