package types

// PublicKeyRecord is the directory entry for one user: the exported public half
// of the identity key pair. Readable by anyone, upsert-only. The private half
// never appears in any server-side type.
type PublicKeyRecord struct {
	BaseDocument `json:",inline"`
	UserID       string `json:"userId" validate:"required"`
	PublicKeyB64 string `json:"publicKeyB64" validate:"required,base64"` // base64 key envelope
	Created      int64  `json:"created"`
	Modified     int64  `json:"modified,omitempty"`
}

// Nonce is a single-use login challenge, removed once consumed or expired
type Nonce struct {
	BaseDocument `json:",inline"`
	Nonce        string `json:"nonce"`
	Created      int64  `json:"created"`
}
