package reconcile

import (
	"context"
	"log/slog"

	"github.com/sydlexius/lineup/internal/bus"
	"github.com/sydlexius/lineup/internal/link"
)

// Thresholds decide which candidates become links.
type Thresholds struct {
	// Min is the rejection threshold: only scores strictly above it persist.
	Min float64
	// High marks a persisted link as high confidence in run statistics.
	High float64
}

// DefaultThresholds are the stock link thresholds.
var DefaultThresholds = Thresholds{Min: 0.60, High: 0.90}

// LinkStats summarizes one Apply call.
type LinkStats struct {
	Added          int
	HighConfidence int
	Skipped        int
	Errors         int
}

// Linker persists resolver candidates. The confidence policy and pair
// de-duplication for every resolver live here.
type Linker struct {
	links      *link.Service
	thresholds Thresholds
	bus        *bus.Bus
	logger     *slog.Logger
}

// NewLinker creates a linker. b may be nil.
func NewLinker(links *link.Service, t Thresholds, b *bus.Bus, logger *slog.Logger) *Linker {
	return &Linker{
		links:      links,
		thresholds: t,
		bus:        b,
		logger:     logger.With(slog.String("component", "linker")),
	}
}

// Apply links eventID to each candidate above the rejection threshold. A
// pair that is already linked is skipped; the stored link is never
// overwritten. Each candidate is independent, so one failed insert does not
// stop the rest.
func (l *Linker) Apply(ctx context.Context, rc RunContext, eventID string, candidates []Candidate) LinkStats {
	var stats LinkStats
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c.Confidence <= l.thresholds.Min {
			stats.Skipped++
			continue
		}
		if _, dup := seen[c.ArtistID]; dup {
			stats.Skipped++
			continue
		}
		seen[c.ArtistID] = struct{}{}

		added, err := l.links.Create(ctx, &link.Link{
			ArtistID:    c.ArtistID,
			EventID:     eventID,
			Confidence:  c.Confidence,
			Source:      c.Source,
			MatchDetail: c.MatchDetail,
			Role:        c.Role,
			RunID:       rc.RunID,
		})
		if err != nil {
			stats.Errors++
			l.logger.Error("creating link",
				slog.String("artist_id", c.ArtistID),
				slog.String("event_id", eventID),
				slog.String("run_id", rc.RunID),
				slog.Any("error", err))
			continue
		}
		if !added {
			stats.Skipped++
			continue
		}
		stats.Added++
		if c.Confidence >= l.thresholds.High {
			stats.HighConfidence++
		}
		l.bus.Publish(bus.LinkCreated, map[string]any{
			"source":     string(c.Source),
			"artist_id":  c.ArtistID,
			"event_id":   eventID,
			"confidence": c.Confidence,
		})
	}
	return stats
}
