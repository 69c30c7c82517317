package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Envelope is the common header of every KioskNet message. Concrete
// message structs embed it so the discriminator and version marshal
// alongside the payload fields.
type Envelope struct {
	// Type is the message discriminator. Case-insensitive on the wire.
	Type string `json:"type"`

	// Version is the sender's protocol version. Optional: legacy fleet
	// firmware predates the field.
	Version string `json:"version,omitempty"`
}

// Envelope errors.
var (
	// ErrMissingType indicates a message without a type discriminator.
	// Such messages are dropped, not fatal to the connection.
	ErrMissingType = errors.New("message has no type field")

	// ErrUnknownType indicates a type with no catalogued payload shape.
	// Callers route these through the fallback path rather than failing.
	ErrUnknownType = errors.New("unknown message type")
)

// Header is the decoded envelope header of an incoming message.
type Header struct {
	// Type is the canonical message type, or the raw wire value (as sent)
	// when the type is not catalogued.
	Type string

	// Known is true when Type names a catalogued message.
	Known bool

	// Version is the peer's declared protocol version (may be empty).
	Version string
}

// DecodeHeader parses the envelope header from raw JSON, canonicalizing
// the type discriminator.
func DecodeHeader(data []byte) (*Header, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed message envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	canonical, known := CanonicalType(env.Type)
	if !known {
		canonical = env.Type
	}
	return &Header{
		Type:    canonical,
		Known:   known,
		Version: env.Version,
	}, nil
}

// CanonicalType maps a wire type string to its canonical form,
// case-insensitively. The second return value is false for types not in
// the catalogue.
func CanonicalType(wireType string) (string, bool) {
	canonical, ok := typeIndex[strings.ToLower(wireType)]
	return canonical, ok
}

// DecodePayload unmarshals raw JSON into the concrete message struct for
// the given canonical type. Returns ErrUnknownType for uncatalogued types.
func DecodePayload(canonicalType string, data []byte) (any, error) {
	factory, ok := payloadFactories[canonicalType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, canonicalType)
	}
	msg := factory()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("malformed %s payload: %w", canonicalType, err)
	}
	return msg, nil
}

// Encode marshals a message to its JSON wire form.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// typeIndex maps lowercased wire types to canonical types.
var typeIndex = make(map[string]string, len(payloadFactories))

func init() {
	for canonical := range payloadFactories {
		typeIndex[strings.ToLower(canonical)] = canonical
	}
}
