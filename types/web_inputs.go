package types

// for register
type InputRegister struct {
	UserID       string `json:"userId" validate:"required,min=3,max=128"`
	PublicKeyB64 string `json:"publicKeyB64" validate:"required,base64"`
}

// for login (challenge-response over the published identity key)
type InputLogin struct {
	UserID          string `json:"userId" validate:"required"`
	Nonce           string `json:"nonce" validate:"required"`
	SignatureBase64 string `json:"signatureBase64" validate:"required,base64"` // RSA-PSS over the nonce bytes
}

// for public key publication
type InputPublishKey struct {
	PublicKeyB64 string `json:"publicKeyB64" validate:"required,base64"`
}

// for conversation creation; wrapped keys are computed client side, the server
// only checks the shape (exactly one entry per participant)
type InputCreateConversation struct {
	Participants []string          `json:"participants" validate:"required,min=1"`
	WrappedKeys  map[string]string `json:"wrappedKeys" validate:"required,min=1"`
	Name         string            `json:"name,omitempty" validate:"omitempty,max=256"`
}

// for message append
type InputAppendMessage struct {
	Ciphertext string `json:"ciphertext" validate:"required,base64"`
	IV         string `json:"iv" validate:"required,base64"`
	Created    int64  `json:"created,omitempty"`
}
