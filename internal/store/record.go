package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/intenthost/internal/host"
	"github.com/roach88/intenthost/internal/snapshot"
)

// Record is one journaled dispatch.
type Record struct {
	Seq          int64              `json:"seq"`
	IntentID     string             `json:"intentId"`
	Key          string             `json:"key"`
	Intent       snapshot.Intent    `json:"intent"`
	Status       host.ResultStatus  `json:"status"`
	ErrorCode    string             `json:"errorCode,omitempty"`
	Snapshot     *snapshot.Snapshot `json:"snapshot"`
	SnapshotHash string             `json:"snapshotHash"`
	SchemaHash   string             `json:"schemaHash,omitempty"`
	Traces       []host.TraceEvent  `json:"traces"`
}

// NewRecord builds a journal record from a dispatch result. The key is the
// intent id, which is how Host.Dispatch keys its execution contexts.
func NewRecord(intent snapshot.Intent, res *host.HostResult) (Record, error) {
	if res == nil || res.Snapshot == nil {
		return Record{}, fmt.Errorf("new record %s: result has no snapshot", intent.IntentID)
	}
	hash, err := snapshot.Hash(res.Snapshot)
	if err != nil {
		return Record{}, fmt.Errorf("new record %s: %w", intent.IntentID, err)
	}

	rec := Record{
		IntentID:     intent.IntentID,
		Key:          intent.IntentID,
		Intent:       intent,
		Status:       res.Status,
		Snapshot:     res.Snapshot,
		SnapshotHash: hash,
		SchemaHash:   res.Snapshot.Meta.SchemaHash,
		Traces:       res.Traces,
	}
	if res.Error != nil {
		rec.ErrorCode = string(res.Error.Code)
	}
	return rec, nil
}

// marshalColumn serializes a value to canonical JSON TEXT.
func marshalColumn(name string, v any) (string, error) {
	data, err := snapshot.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	return string(data), nil
}

func unmarshalColumn(name, data string, v any) error {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}
