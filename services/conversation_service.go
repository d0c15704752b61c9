package services

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/cryptalk/go-cryptalk-server/global"
	"github.com/cryptalk/go-cryptalk-server/metrics"
	"github.com/cryptalk/go-cryptalk-server/repository"
	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/google/uuid"
)

// ConversationService persists conversation records. A conversation is one
// document carrying the full wrapped-key map, so creation is atomic: either
// every participant has a wrapped key or nothing is observable.
type ConversationService struct {
	conversationRepo repository.Repository
	directoryService *DirectoryService
	env              *types.Environment
}

func NewConversationService(dbSelector repository.DBSelector, env *types.Environment) *ConversationService {
	conversationRepo, err := dbSelector.ChooseDB(repository.Conversations)
	if err != nil {
		panic(err)
	}
	return &ConversationService{
		conversationRepo: conversationRepo,
		directoryService: NewDirectoryService(dbSelector),
		env:              env,
	}
}

// Create validates and persists a new conversation created by creatorID.
// Participants are deduplicated and must include the creator; wrappedKeys must
// hold exactly one entry per participant; every participant must have a
// published public key (types.ErrKeyNotFound otherwise, and nothing is written).
func (cs *ConversationService) Create(creatorID string, input *types.InputCreateConversation) (*types.Conversation, error) {
	participants := dedupeParticipants(append(input.Participants, creatorID))

	if len(input.WrappedKeys) != len(participants) {
		return nil, types.ErrBadRequest
	}
	for _, p := range participants {
		if _, ok := input.WrappedKeys[p]; !ok {
			return nil, types.ErrBadRequest
		}
		// every participant must exist in the directory; this also guards
		// against wrapped keys addressed to users who can never unwrap them
		if _, err := cs.directoryService.GetPublicKey(p); err != nil {
			if err == types.ErrNotFound {
				return nil, types.ErrKeyNotFound
			}
			return nil, err
		}
	}

	conversation := &types.Conversation{
		ConversationID: uuid.NewString(),
		Participants:   participants,
		WrappedKeys:    input.WrappedKeys,
		CreatedBy:      creatorID,
		Created:        time.Now().UTC().UnixMilli(),
		Name:           input.Name,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	if err := cs.conversationRepo.Save(ctx, conversation.ConversationID, conversation); err != nil {
		global.Logger.Log("ConversationService.Create", "failed to save", err.Error())
		return nil, err
	}

	metrics.ConversationsCreatedMetricsCount.Inc()
	cs.notifyParticipants(conversation)
	return conversation, nil
}

// Get returns a conversation by id regardless of membership; callers enforce
// participant checks where required
func (cs *ConversationService) Get(conversationID string) (*types.Conversation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	resp, err := cs.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	var conversation types.Conversation
	if mErr := repository.MapToObject(resp, &conversation); mErr != nil {
		return nil, mErr
	}
	return &conversation, nil
}

// ListByParticipant returns all conversations the user participates in,
// newest first
func (cs *ConversationService) ListByParticipant(userID string) ([]*types.Conversation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"participants": map[string]interface{}{
				"$elemMatch": map[string]interface{}{"$eq": userID},
			},
		},
		"sort":  []map[string]interface{}{{"created": "desc"}},
		"limit": 200,
	}
	resp, err := cs.conversationRepo.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	var conversations []*types.Conversation
	if mErr := repository.MapFindToList(resp, &conversations); mErr != nil {
		return nil, mErr
	}
	return conversations, nil
}

// notifyParticipants pushes a conversation-list change event to every
// participant's channel; SSE handlers fan it out to live subscribers
func (cs *ConversationService) notifyParticipants(conversation *types.Conversation) {
	if cs.env == nil || cs.env.RedisClient == nil {
		return
	}
	payload, mErr := json.Marshal(conversation)
	if mErr != nil {
		global.Logger.Log("ConversationService.notifyParticipants", "failed to marshal", mErr.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	for _, p := range conversation.Participants {
		if err := cs.env.RedisClient.Publish(ctx, UserChannel(p), payload).Err(); err != nil {
			global.Logger.Log("ConversationService.notifyParticipants", "publish failed", err.Error())
		}
	}
}

func dedupeParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
