package types

import (
	"encoding/base64"

	"github.com/fxamacker/cbor/v2"
)

// Canonical versioned serialization for key material crossing the wire.
// Base64(CBOR(envelope)) so stored values stay printable strings while the
// binary layout remains explicit and versioned instead of shape-sniffed.
const (
	KeyEnvelopeVersion = 1

	AlgRSAOAEP256  = "RSA-OAEP-256"  // wrapped conversation keys
	AlgRSA2048PKIX = "RSA-2048-PKIX" // exported public keys
)

type KeyEnvelope struct {
	Version int    `cbor:"v"`
	Alg     string `cbor:"alg"`
	Data    []byte `cbor:"data"`
}

// EncodeKeyEnvelope serializes key material under the given algorithm label
func EncodeKeyEnvelope(alg string, data []byte) (string, error) {
	env := KeyEnvelope{
		Version: KeyEnvelopeVersion,
		Alg:     alg,
		Data:    data,
	}
	payload, err := cbor.Marshal(&env)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// DecodeKeyEnvelope parses a base64 envelope and checks the expected algorithm
func DecodeKeyEnvelope(encoded string, expectedAlg string) ([]byte, error) {
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrBadRequest
	}
	var env KeyEnvelope
	if err := cbor.Unmarshal(payload, &env); err != nil {
		return nil, ErrBadRequest
	}
	if env.Version != KeyEnvelopeVersion || env.Alg != expectedAlg {
		return nil, ErrBadRequest
	}
	return env.Data, nil
}
