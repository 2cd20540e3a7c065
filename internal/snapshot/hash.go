package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainRequirement = "intenthost/requirement/v1"
	DomainSchema      = "intenthost/schema/v1"
	DomainSnapshot    = "intenthost/snapshot/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MarshalCanonical produces RFC 8785 canonical JSON for hashing.
//
// Strings and object keys are NFC normalized before serialization so that
// visually identical inputs hash identically.
func MarshalCanonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	raw, err = json.Marshal(nfc(generic))
	if err != nil {
		return nil, fmt.Errorf("marshal normalized: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

func nfc(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			out[norm.NFC.String(k)] = nfc(elem)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = nfc(elem)
		}
		return out
	default:
		return t
	}
}

// RequirementID computes the content-addressed id of a requirement.
// The same intent reaching the same flow position with the same params always
// yields the same id, which keeps replays byte-identical.
func RequirementID(intentID, actionID string, flowPosition int, effectType string, params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	canonical, err := MarshalCanonical(map[string]any{
		"intent_id":     intentID,
		"action_id":     actionID,
		"flow_position": flowPosition,
		"type":          effectType,
		"params":        params,
	})
	if err != nil {
		return "", fmt.Errorf("RequirementID: %w", err)
	}
	return hashWithDomain(DomainRequirement, canonical), nil
}

// SchemaHash computes the content hash of a schema definition.
func SchemaHash(schema any) (string, error) {
	canonical, err := MarshalCanonical(schema)
	if err != nil {
		return "", fmt.Errorf("SchemaHash: %w", err)
	}
	return hashWithDomain(DomainSchema, canonical), nil
}

// Hash computes the content hash of a snapshot's state partitions.
// Meta is excluded except for the version and random seed, so two runs with
// the same inputs and seed produce the same hash regardless of wall time.
func Hash(s *Snapshot) (string, error) {
	if s == nil {
		return "", fmt.Errorf("Hash: nil snapshot")
	}
	canonical, err := MarshalCanonical(map[string]any{
		"data":        s.Data,
		"computed":    s.Computed,
		"system":      s.System,
		"version":     s.Meta.Version,
		"random_seed": s.Meta.RandomSeed,
	})
	if err != nil {
		return "", fmt.Errorf("Hash: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}
