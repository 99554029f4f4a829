package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HashSize is the size in bytes of circuit-side identifiers (XTX and SFX ids).
const HashSize = 32

// Hash is a 32-byte circuit identifier in lowercase hex form, without 0x prefix.
type Hash string

// NewHash parses a hex identifier, accepting an optional 0x prefix.
func NewHash(s string) (Hash, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) != HashSize {
		return "", fmt.Errorf("invalid hash length: got %d bytes, want %d", len(b), HashSize)
	}
	return Hash(s), nil
}

// String returns the full hex form.
func (h Hash) String() string { return string(h) }

// Human returns the first 8 hex characters, used in logs and metrics labels.
func (h Hash) Human() string {
	if len(h) < 8 {
		return string(h)
	}
	return string(h[:8])
}

// Bytes returns the decoded identifier. The Hash must have been constructed
// through NewHash; malformed values yield nil.
func (h Hash) Bytes() []byte {
	b, err := hex.DecodeString(string(h))
	if err != nil {
		return nil
	}
	return b
}

// HexBytes is a byte slice that marshals to/from hex in JSON, used for raw
// encoded call arguments and proof payloads on the circuit event stream.
type HexBytes []byte

// MarshalJSON implements json.Marshaler.
func (b HexBytes) MarshalJSON() ([]byte, error) {
	return []byte(`"0x` + hex.EncodeToString(b) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *HexBytes) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex bytes: %w", err)
	}
	*b = raw
	return nil
}

// String returns the 0x-prefixed hex form.
func (b HexBytes) String() string {
	return "0x" + hex.EncodeToString(b)
}
