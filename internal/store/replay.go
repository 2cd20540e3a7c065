package store

import (
	"context"
	"fmt"
)

// Divergence is a mismatch between a journaled dispatch and a re-run.
type Divergence struct {
	IntentID string `json:"intentId"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (d Divergence) String() string {
	return fmt.Sprintf("%s: %s expected %q, got %q", d.IntentID, d.Field, d.Expected, d.Actual)
}

// Compare checks a re-run record against the journal. A record missing from
// the journal is a divergence on field "journal".
func (s *Store) Compare(ctx context.Context, rerun Record) ([]Divergence, error) {
	journaled, err := s.ReadDispatch(ctx, rerun.IntentID)
	if IsNotFound(err) {
		return []Divergence{{IntentID: rerun.IntentID, Field: "journal", Expected: "present", Actual: "missing"}}, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Divergence
	check := func(field, expected, actual string) {
		if expected != actual {
			out = append(out, Divergence{IntentID: rerun.IntentID, Field: field, Expected: expected, Actual: actual})
		}
	}
	check("status", string(journaled.Status), string(rerun.Status))
	check("errorCode", journaled.ErrorCode, rerun.ErrorCode)
	check("snapshotHash", journaled.SnapshotHash, rerun.SnapshotHash)
	check("schemaHash", journaled.SchemaHash, rerun.SchemaHash)
	return out, nil
}
