package store

import (
	"context"
	"fmt"

	"github.com/roach88/intenthost/internal/host"
)

// WriteDispatch appends a record. A record whose intent id is already
// journaled is ignored and inserted is false; seq is then the existing row's.
func (s *Store) WriteDispatch(ctx context.Context, rec Record) (seq int64, inserted bool, err error) {
	if rec.IntentID == "" {
		return 0, false, fmt.Errorf("write dispatch: intent id is required")
	}
	if rec.Snapshot == nil {
		return 0, false, fmt.Errorf("write dispatch %s: snapshot is required", rec.IntentID)
	}

	intentJSON, err := marshalColumn("intent", rec.Intent)
	if err != nil {
		return 0, false, fmt.Errorf("write dispatch %s: %w", rec.IntentID, err)
	}
	snapJSON, err := marshalColumn("snapshot", rec.Snapshot)
	if err != nil {
		return 0, false, fmt.Errorf("write dispatch %s: %w", rec.IntentID, err)
	}
	traces := rec.Traces
	if traces == nil {
		traces = []host.TraceEvent{}
	}
	tracesJSON, err := marshalColumn("traces", traces)
	if err != nil {
		return 0, false, fmt.Errorf("write dispatch %s: %w", rec.IntentID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("write dispatch %s: begin tx: %w", rec.IntentID, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO dispatches
		(intent_id, key, intent, status, error_code, snapshot, snapshot_hash, schema_hash, traces)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(intent_id) DO NOTHING
	`,
		rec.IntentID,
		rec.Key,
		intentJSON,
		string(rec.Status),
		rec.ErrorCode,
		snapJSON,
		rec.SnapshotHash,
		rec.SchemaHash,
		tracesJSON,
	)
	if err != nil {
		return 0, false, fmt.Errorf("write dispatch %s: %w", rec.IntentID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("write dispatch %s: rows affected: %w", rec.IntentID, err)
	}
	if affected > 0 {
		seq, err = result.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("write dispatch %s: last insert id: %w", rec.IntentID, err)
		}
		inserted = true
	} else {
		err = tx.QueryRowContext(ctx, `SELECT seq FROM dispatches WHERE intent_id = ?`, rec.IntentID).Scan(&seq)
		if err != nil {
			return 0, false, fmt.Errorf("write dispatch %s: select existing: %w", rec.IntentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("write dispatch %s: commit: %w", rec.IntentID, err)
	}
	return seq, inserted, nil
}
