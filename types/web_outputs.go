package types

type OutputNonce struct {
	Nonce string `json:"nonce"`
}

type OutputLogin struct {
	UserID string `json:"userId"`
	Token  string `json:"token"` // compact JWS session token
}

type OutputPublicKey struct {
	UserID       string `json:"userId"`
	PublicKeyB64 string `json:"publicKeyB64"`
}

type OutputMessageBatch struct {
	ConversationID string              `json:"conversationId"`
	Messages       []*EncryptedMessage `json:"messages"` // ordered oldest to newest
}

type OutputConversationList struct {
	Conversations []*Conversation `json:"conversations"`
}
