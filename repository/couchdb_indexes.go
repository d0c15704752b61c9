package repository

import (
	"fmt"

	"github.com/go-resty/resty/v2"
)

// CreateConversationParticipantIndex indexes conversations by participant user id
// so the per-user conversation list query stays cheap
func CreateConversationParticipantIndex(conversationRepo Repository) error {
	participantIndex := map[string]interface{}{
		"index": map[string]interface{}{
			"fields": []string{"participants", "created"},
		},
		"name": "participants-created-index",
		"type": "json",
		"ddoc": "participants-created-index",
	}
	c := conversationRepo.GetClient().(*resty.Client)
	resp, rErr := c.R().SetBody(participantIndex).Post(fmt.Sprintf("%s/%s", Conversations, "_index"))
	if rErr != nil {
		return rErr
	}
	if resp.IsError() {
		return handleError(resp)
	}
	return nil
}

// CreateMessageConversationIndex indexes messages by conversation and creation
// time; message batches are always read oldest to newest
func CreateMessageConversationIndex(messageRepo Repository) error {
	messageIndex := map[string]interface{}{
		"index": map[string]interface{}{
			"fields": []map[string]interface{}{
				{"conversationId": "asc"},
				{"created": "asc"},
			},
		},
		"name": "conversation-created-index",
		"ddoc": "conversation-created-index",
		"type": "json",
	}
	c := messageRepo.GetClient().(*resty.Client)
	resp, rErr := c.R().SetBody(messageIndex).Post(fmt.Sprintf("%s/%s", Messages, "_index"))
	if rErr != nil {
		return rErr
	}
	if resp.IsError() {
		return handleError(resp)
	}
	return nil
}
