package changelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sydlexius/lineup/internal/database"
)

// EntityType names the kind of record a change applies to.
type EntityType string

// Entity types.
const (
	EntityArtist EntityType = "artist"
	EntityEvent  EntityType = "event"
)

// ChangeType is the ingestion decision that produced an entry.
type ChangeType string

// Change types. Unchanged records never produce an entry.
const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
)

// Entry is an append-only audit record of one create or update decision.
type Entry struct {
	ID            string            `json:"id"`
	RunID         string            `json:"run_id,omitempty"`
	EntityType    EntityType        `json:"entity_type"`
	ExternalID    string            `json:"external_id"`
	ChangeType    ChangeType        `json:"change_type"`
	OldHash       *string           `json:"old_hash"`
	NewHash       string            `json:"new_hash"`
	ChangedFields []string          `json:"changed_fields"`
	OldData       map[string]string `json:"old_data,omitempty"`
	NewData       map[string]string `json:"new_data"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Service appends and reads change log entries. It has no update or delete.
type Service struct {
	db database.Querier
}

// NewService creates a change log service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// WithTx returns a copy of the service bound to tx.
func (s *Service) WithTx(tx *sql.Tx) *Service {
	return &Service{db: tx}
}

// Append writes a new entry.
func (s *Service) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.ChangedFields == nil {
		e.ChangedFields = []string{}
	}

	fields, err := json.Marshal(e.ChangedFields)
	if err != nil {
		return fmt.Errorf("encoding changed fields: %w", err)
	}
	newData, err := json.Marshal(e.NewData)
	if err != nil {
		return fmt.Errorf("encoding new data: %w", err)
	}
	var oldData any
	if e.OldData != nil {
		b, err := json.Marshal(e.OldData)
		if err != nil {
			return fmt.Errorf("encoding old data: %w", err)
		}
		oldData = string(b)
	}
	var oldHash any
	if e.OldHash != nil {
		oldHash = *e.OldHash
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO change_logs (
			id, run_id, entity_type, external_id, change_type,
			old_hash, new_hash, changed_fields, old_data, new_data, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.RunID, string(e.EntityType), e.ExternalID, string(e.ChangeType),
		oldHash, e.NewHash, string(fields), oldData, string(newData),
		e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("appending change log for %s %s: %w", e.EntityType, e.ExternalID, err)
	}
	return nil
}

// ListForEntity returns an entity's history, oldest first.
func (s *Service) ListForEntity(ctx context.Context, entity EntityType, externalID string) ([]Entry, error) {
	return s.query(ctx, `SELECT id, run_id, entity_type, external_id, change_type,
		old_hash, new_hash, changed_fields, old_data, new_data, created_at
		FROM change_logs WHERE entity_type = ? AND external_id = ?
		ORDER BY created_at ASC, rowid ASC`, string(entity), externalID)
}

// ListForRun returns the entries written by one run, in write order.
func (s *Service) ListForRun(ctx context.Context, runID string) ([]Entry, error) {
	return s.query(ctx, `SELECT id, run_id, entity_type, external_id, change_type,
		old_hash, new_hash, changed_fields, old_data, new_data, created_at
		FROM change_logs WHERE run_id = ? ORDER BY rowid ASC`, runID)
}

func (s *Service) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing change logs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []Entry
	for rows.Next() {
		var e Entry
		var entity, change, fields, newData, createdAt string
		var oldHash, oldData sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &entity, &e.ExternalID, &change,
			&oldHash, &e.NewHash, &fields, &oldData, &newData, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning change log row: %w", err)
		}
		e.EntityType = EntityType(entity)
		e.ChangeType = ChangeType(change)
		if oldHash.Valid {
			h := oldHash.String
			e.OldHash = &h
		}
		if err := json.Unmarshal([]byte(fields), &e.ChangedFields); err != nil {
			return nil, fmt.Errorf("decoding changed fields: %w", err)
		}
		if err := json.Unmarshal([]byte(newData), &e.NewData); err != nil {
			return nil, fmt.Errorf("decoding new data: %w", err)
		}
		if oldData.Valid {
			if err := json.Unmarshal([]byte(oldData.String), &e.OldData); err != nil {
				return nil, fmt.Errorf("decoding old data: %w", err)
			}
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating change log rows: %w", err)
	}
	return entries, nil
}
