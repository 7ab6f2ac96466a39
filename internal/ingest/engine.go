package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sydlexius/lineup/internal/artist"
	"github.com/sydlexius/lineup/internal/bus"
	"github.com/sydlexius/lineup/internal/changelog"
	"github.com/sydlexius/lineup/internal/event"
	"github.com/sydlexius/lineup/internal/listing"
)

// Decision is the outcome of comparing an incoming record with stored state.
type Decision string

// Decisions.
const (
	Created   Decision = "created"
	Updated   Decision = "updated"
	Unchanged Decision = "unchanged"
)

// Engine applies create/update/no-op decisions for listing records and
// writes the audit trail.
type Engine struct {
	db      *sql.DB
	artists *artist.Service
	events  *event.Service
	changes *changelog.Service
	bus     *bus.Bus
	logger  *slog.Logger
}

// NewEngine creates an ingestion engine. Record writes and their change log
// entries share one transaction on db. bus may be nil.
func NewEngine(db *sql.DB, artists *artist.Service, events *event.Service, changes *changelog.Service, b *bus.Bus, logger *slog.Logger) *Engine {
	return &Engine{
		db:      db,
		artists: artists,
		events:  events,
		changes: changes,
		bus:     b,
		logger:  logger.With(slog.String("component", "ingest")),
	}
}

// ArtistFromRaw maps a listing record onto the canonical artist fields and
// computes its content hash.
func ArtistFromRaw(raw listing.RawArtist) *artist.Artist {
	a := &artist.Artist{
		ExternalID:   string(raw.ID),
		Title:        strings.TrimSpace(raw.Title),
		Subtitle:     strings.TrimSpace(raw.Subtitle),
		CountryLabel: raw.CountryLabel(),
		CountryCode:  raw.CountryCode(),
		URL:          strings.TrimSpace(raw.URL),
		ImageURL:     strings.TrimSpace(raw.Image),
	}
	a.ContentHash = ContentHash(a.HashFields()...)
	return a
}

// EventFromRaw maps a listing record onto the canonical event fields and
// computes its content hash. raw must have passed Validate.
func EventFromRaw(raw listing.RawEvent) *event.Event {
	start, _ := listing.ParseTimestamp(raw.Start)
	end, _ := listing.ParseTimestamp(raw.End)
	e := &event.Event{
		ExternalID: string(raw.ID),
		Title:      strings.TrimSpace(raw.Title),
		Subtitle:   strings.TrimSpace(raw.Subtitle),
		StartsAt:   start,
		EndsAt:     end,
		Venue:      strings.TrimSpace(raw.Venue),
		Category:   strings.TrimSpace(raw.Category),
		SoldOut:    raw.SoldOut,
		URL:        strings.TrimSpace(raw.URL),
		ImageURL:   strings.TrimSpace(raw.Image),
	}
	e.ContentHash = ContentHash(e.HashFields()...)
	return e
}

// UpsertArtist validates raw and creates, updates or skips the artist. A
// stub with the same external id is promoted in place.
func (e *Engine) UpsertArtist(ctx context.Context, runID string, raw listing.RawArtist) (Decision, error) {
	if err := raw.Validate(); err != nil {
		return "", err
	}
	incoming := ArtistFromRaw(raw)

	existing, err := e.artists.GetByExternalID(ctx, incoming.ExternalID)
	if err != nil {
		return "", err
	}

	if existing == nil {
		incoming.FirstRunID = runID
		err := e.inTx(ctx, func(tx *sql.Tx) error {
			if err := e.artists.WithTx(tx).Create(ctx, incoming); err != nil {
				return err
			}
			return e.changes.WithTx(tx).Append(ctx, &changelog.Entry{
				RunID:      runID,
				EntityType: changelog.EntityArtist,
				ExternalID: incoming.ExternalID,
				ChangeType: changelog.ChangeCreated,
				NewHash:    incoming.ContentHash,
				NewData:    incoming.Snapshot(),
			})
		})
		if err != nil {
			return "", err
		}
		e.publish(changelog.EntityArtist, Created)
		return Created, nil
	}

	if existing.ContentHash == incoming.ContentHash && !existing.IsStub {
		e.publish(changelog.EntityArtist, Unchanged)
		return Unchanged, nil
	}

	oldSnap, oldHash := existing.Snapshot(), existing.ContentHash
	wasStub := existing.IsStub

	existing.Title = incoming.Title
	existing.Subtitle = incoming.Subtitle
	existing.CountryLabel = incoming.CountryLabel
	existing.CountryCode = incoming.CountryCode
	existing.URL = incoming.URL
	existing.ImageURL = incoming.ImageURL
	existing.ContentHash = incoming.ContentHash
	existing.IsStub = false
	existing.LastRunID = runID

	newSnap := existing.Snapshot()
	changed := ChangedFields(oldSnap, newSnap)
	if wasStub {
		changed = append(changed, "is_stub")
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.artists.WithTx(tx).UpdateCanonical(ctx, existing); err != nil {
			return err
		}
		return e.changes.WithTx(tx).Append(ctx, &changelog.Entry{
			RunID:         runID,
			EntityType:    changelog.EntityArtist,
			ExternalID:    existing.ExternalID,
			ChangeType:    changelog.ChangeUpdated,
			OldHash:       &oldHash,
			NewHash:       existing.ContentHash,
			ChangedFields: changed,
			OldData:       oldSnap,
			NewData:       newSnap,
		})
	})
	if err != nil {
		return "", err
	}

	if wasStub {
		e.logger.Info("stub artist promoted from listing",
			slog.String("external_id", existing.ExternalID),
			slog.String("run_id", runID))
	}
	e.publish(changelog.EntityArtist, Updated)
	return Updated, nil
}

// UpsertEvent validates raw and creates, updates or skips the event.
func (e *Engine) UpsertEvent(ctx context.Context, runID string, raw listing.RawEvent) (Decision, error) {
	if err := raw.Validate(); err != nil {
		return "", err
	}
	incoming := EventFromRaw(raw)

	existing, err := e.events.GetByExternalID(ctx, incoming.ExternalID)
	if err != nil {
		return "", err
	}

	if existing == nil {
		incoming.FirstRunID = runID
		err := e.inTx(ctx, func(tx *sql.Tx) error {
			if err := e.events.WithTx(tx).Create(ctx, incoming); err != nil {
				return err
			}
			return e.changes.WithTx(tx).Append(ctx, &changelog.Entry{
				RunID:      runID,
				EntityType: changelog.EntityEvent,
				ExternalID: incoming.ExternalID,
				ChangeType: changelog.ChangeCreated,
				NewHash:    incoming.ContentHash,
				NewData:    incoming.Snapshot(),
			})
		})
		if err != nil {
			return "", err
		}
		e.publish(changelog.EntityEvent, Created)
		return Created, nil
	}

	if existing.ContentHash == incoming.ContentHash {
		e.publish(changelog.EntityEvent, Unchanged)
		return Unchanged, nil
	}

	oldSnap, oldHash := existing.Snapshot(), existing.ContentHash

	existing.Title = incoming.Title
	existing.Subtitle = incoming.Subtitle
	existing.StartsAt = incoming.StartsAt
	existing.EndsAt = incoming.EndsAt
	existing.Venue = incoming.Venue
	existing.Category = incoming.Category
	existing.SoldOut = incoming.SoldOut
	existing.URL = incoming.URL
	existing.ImageURL = incoming.ImageURL
	existing.ContentHash = incoming.ContentHash
	existing.LastRunID = runID

	newSnap := existing.Snapshot()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.events.WithTx(tx).UpdateCanonical(ctx, existing); err != nil {
			return err
		}
		return e.changes.WithTx(tx).Append(ctx, &changelog.Entry{
			RunID:         runID,
			EntityType:    changelog.EntityEvent,
			ExternalID:    existing.ExternalID,
			ChangeType:    changelog.ChangeUpdated,
			OldHash:       &oldHash,
			NewHash:       existing.ContentHash,
			ChangedFields: ChangedFields(oldSnap, newSnap),
			OldData:       oldSnap,
			NewData:       newSnap,
		})
	})
	if err != nil {
		return "", err
	}
	e.publish(changelog.EntityEvent, Updated)
	return Updated, nil
}

// inTx runs fn in a transaction and commits when it returns nil. fn must
// only touch the database through tx.
func (e *Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (e *Engine) publish(entity changelog.EntityType, d Decision) {
	e.bus.Publish(bus.EntityIngested, map[string]any{
		"entity":   string(entity),
		"decision": string(d),
	})
}
