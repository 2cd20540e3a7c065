package scenario

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/intenthost/internal/core"
	"github.com/roach88/intenthost/internal/snapshot"
)

// RunWithGolden runs the scenario and compares its outcomes with
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/scenario -update
func RunWithGolden(t *testing.T, sc *Scenario, schema *core.Schema) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), sc, schema, Options{})
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, sc.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := GoldenJSON(result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}

// GoldenJSON is the canonical JSON form compared against golden files.
// Snapshot hashes are left out; replay compares those against the journal.
func GoldenJSON(result *Result) ([]byte, error) {
	view := *result
	view.Outcomes = make([]Outcome, len(result.Outcomes))
	for i, o := range result.Outcomes {
		o.SnapshotHash = ""
		view.Outcomes[i] = o
	}
	return snapshot.MarshalCanonical(&view)
}
