package types

// Conversation is the server-side record of a chat. The symmetric conversation
// key appears only inside WrappedKeys, encrypted once per participant under
// that participant's public key. The server can never recover it.
//
// A conversation is created atomically as a single document and is immutable
// after creation (no participant changes without creating a new conversation).
type Conversation struct {
	BaseDocument   `json:",inline"`
	ConversationID string            `json:"conversationId" validate:"required"`
	Participants   []string          `json:"participants" validate:"required,min=1"`            // unique user ids, order irrelevant
	WrappedKeys    map[string]string `json:"wrappedKeys" validate:"required,min=1"`             // user id -> base64 wrapped-key envelope
	CreatedBy      string            `json:"createdBy" validate:"required"`
	Created        int64             `json:"created" validate:"required"` // UTC milliseconds since epoch
	Name           string            `json:"name,omitempty"`
}

// HasParticipant reports whether userID holds a wrapped-key entry
func (c *Conversation) HasParticipant(userID string) bool {
	_, ok := c.WrappedKeys[userID]
	return ok
}
