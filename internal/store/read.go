package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/intenthost/internal/host"
)

const selectColumns = `seq, intent_id, key, intent, status, error_code, snapshot, snapshot_hash, schema_hash, traces`

type scanner interface {
	Scan(dest ...any) error
}

// ReadDispatch returns the record for intentID.
// The error wraps sql.ErrNoRows if none is journaled; see IsNotFound.
func (s *Store) ReadDispatch(ctx context.Context, intentID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM dispatches
		WHERE intent_id = ?
	`, intentID)

	rec, err := scanRecord(row)
	if err != nil {
		return Record{}, fmt.Errorf("read dispatch %s: %w", intentID, err)
	}
	return rec, nil
}

// ListDispatches returns every record ordered by seq ASC.
func (s *Store) ListDispatches(ctx context.Context) ([]Record, error) {
	return s.list(ctx, `
		SELECT `+selectColumns+`
		FROM dispatches
		ORDER BY seq ASC
	`)
}

// ListDispatchesByKey returns the records journaled for one execution key,
// ordered by seq ASC.
func (s *Store) ListDispatchesByKey(ctx context.Context, key string) ([]Record, error) {
	return s.list(ctx, `
		SELECT `+selectColumns+`
		FROM dispatches
		WHERE key = ?
		ORDER BY seq ASC
	`, key)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatches: %w", err)
	}
	return records, nil
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	var status, intentJSON, snapJSON, traceJSON string
	if err := row.Scan(
		&rec.Seq,
		&rec.IntentID,
		&rec.Key,
		&intentJSON,
		&status,
		&rec.ErrorCode,
		&snapJSON,
		&rec.SnapshotHash,
		&rec.SchemaHash,
		&traceJSON,
	); err != nil {
		return Record{}, fmt.Errorf("scan dispatch: %w", err)
	}
	rec.Status = host.ResultStatus(status)

	if err := unmarshalColumn("intent", intentJSON, &rec.Intent); err != nil {
		return Record{}, err
	}
	if err := unmarshalColumn("snapshot", snapJSON, &rec.Snapshot); err != nil {
		return Record{}, err
	}
	if err := unmarshalColumn("traces", traceJSON, &rec.Traces); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// IsNotFound reports whether err means no record was journaled.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
