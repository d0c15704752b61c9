package types

// EncryptedMessage is the only message form the server ever sees or stores.
// Ciphertext carries the AES-GCM output including the authentication tag;
// IV is the 12-byte nonce drawn fresh for every encryption. Append-only,
// immutable once written.
type EncryptedMessage struct {
	BaseDocument   `json:",inline"`
	MessageID      string `json:"messageId" validate:"required"` // UUID (RFC 4122)
	ConversationID string `json:"conversationId" validate:"required"`
	SenderID       string `json:"senderId" validate:"required"`
	Ciphertext     string `json:"ciphertext" validate:"required,base64"`
	IV             string `json:"iv" validate:"required,base64"`
	Created        int64  `json:"created" validate:"required"` // UTC milliseconds since epoch
}

// DecryptedMessage is the client-side view after MessageCipher ran. Never
// serialized to the server. Failed is set when the authentication tag did not
// verify; Text then holds a placeholder instead of plaintext.
type DecryptedMessage struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Text           string `json:"text"`
	Created        int64  `json:"created"`
	Failed         bool   `json:"failed,omitempty"`
}
