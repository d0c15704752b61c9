package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cryptalk/go-cryptalk-server/global"
	"github.com/cryptalk/go-cryptalk-server/metrics"
	"github.com/cryptalk/go-cryptalk-server/repository"
	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/google/uuid"
)

// ConvChannel is the redis pub/sub channel carrying new messages of one conversation
func ConvChannel(conversationID string) string {
	return fmt.Sprintf("conv:%s", conversationID)
}

// UserChannel is the redis pub/sub channel carrying conversation-list changes of one user
func UserChannel(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// MessageService stores and lists encrypted messages. Only ciphertext and iv
// ever pass through here; the service has no way to decrypt anything.
type MessageService struct {
	messageRepo         repository.Repository
	conversationService *ConversationService
	env                 *types.Environment
}

func NewMessageService(dbSelector repository.DBSelector, env *types.Environment) *MessageService {
	messageRepo, err := dbSelector.ChooseDB(repository.Messages)
	if err != nil {
		panic(err)
	}
	return &MessageService{
		messageRepo:         messageRepo,
		conversationService: NewConversationService(dbSelector, env),
		env:                 env,
	}
}

// Append stores one encrypted message. The sender must hold a wrapped-key
// entry in the conversation (types.ErrNotAParticipant otherwise). Messages are
// immutable once written.
func (ms *MessageService) Append(conversationID string, senderID string, input *types.InputAppendMessage) (*types.EncryptedMessage, error) {
	conversation, cErr := ms.conversationService.Get(conversationID)
	if cErr != nil {
		return nil, cErr
	}
	if !conversation.HasParticipant(senderID) {
		return nil, types.ErrNotAParticipant
	}

	created := input.Created
	if created == 0 {
		created = time.Now().UTC().UnixMilli()
	}
	message := &types.EncryptedMessage{
		MessageID:      uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Ciphertext:     input.Ciphertext,
		IV:             input.IV,
		Created:        created,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	if err := ms.messageRepo.Save(ctx, message.MessageID, message); err != nil {
		global.Logger.Log("MessageService.Append", "failed to save", err.Error())
		return nil, err
	}
	metrics.MessagesStoredMetricsCount.Inc()

	ms.notifySubscribers(message)
	return message, nil
}

// List returns messages of a conversation created strictly after since,
// ordered oldest to newest
func (ms *MessageService) List(conversationID string, since int64, limit int) ([]*types.EncryptedMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"conversationId": conversationID,
			"created": map[string]interface{}{
				"$gt": since,
			},
		},
		"sort":  []map[string]interface{}{{"created": "asc"}},
		"limit": limit,
	}
	resp, err := ms.messageRepo.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	var messages []*types.EncryptedMessage
	if mErr := repository.MapFindToList(resp, &messages); mErr != nil {
		return nil, mErr
	}
	return messages, nil
}

// GetConversationForUser loads a conversation and enforces membership
func (ms *MessageService) GetConversationForUser(conversationID string, userID string) (*types.Conversation, error) {
	conversation, err := ms.conversationService.Get(conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, types.ErrNotAParticipant
	}
	return conversation, nil
}

func (ms *MessageService) notifySubscribers(message *types.EncryptedMessage) {
	if ms.env == nil || ms.env.RedisClient == nil {
		return
	}
	payload, mErr := json.Marshal(message)
	if mErr != nil {
		global.Logger.Log("MessageService.notifySubscribers", "failed to marshal", mErr.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	if err := ms.env.RedisClient.Publish(ctx, ConvChannel(message.ConversationID), payload).Err(); err != nil {
		global.Logger.Log("MessageService.notifySubscribers", "publish failed", err.Error())
	}
}
