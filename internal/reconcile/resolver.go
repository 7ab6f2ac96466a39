package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sydlexius/lineup/internal/artist"
	"github.com/sydlexius/lineup/internal/event"
	"github.com/sydlexius/lineup/internal/lineup"
	"github.com/sydlexius/lineup/internal/link"
	"github.com/sydlexius/lineup/internal/match"
	"github.com/sydlexius/lineup/internal/provider"
)

// Candidate is a proposed artist-event link produced by a resolver.
type Candidate struct {
	ArtistID    string
	Confidence  float64
	Source      link.Source
	MatchDetail string
	Role        string
}

// Resolution is what a resolver found for one event.
type Resolution struct {
	Candidates   []Candidate
	Mentions     int
	StubsCreated int
	Errors       int
	// Parsed is true when the event's detail page was fetched and parsed.
	Parsed bool
}

// LinkResolver turns one event into link candidates. Per-mention failures
// are counted in Resolution.Errors; a returned error means the event could
// not be examined at all.
type LinkResolver interface {
	Resolve(ctx context.Context, rc RunContext, ev *event.Event) (Resolution, error)
}

// LineupFetcher downloads and parses an event detail page.
type LineupFetcher interface {
	FetchLineup(ctx context.Context, pageURL string) (lineup.Result, error)
}

// LineupSourced resolves events from their detail page lineups. Mentions are
// taken as ground truth with confidence 1.0; unknown performers become stub
// artists.
type LineupSourced struct {
	fetcher LineupFetcher
	artists *artist.Service
	logger  *slog.Logger
	onStub  func(a *artist.Artist)
}

// NewLineupSourced creates a lineup resolver. onStub may be nil.
func NewLineupSourced(fetcher LineupFetcher, artists *artist.Service, logger *slog.Logger, onStub func(a *artist.Artist)) *LineupSourced {
	return &LineupSourced{
		fetcher: fetcher,
		artists: artists,
		logger:  logger.With(slog.String("component", "lineup-resolver")),
		onStub:  onStub,
	}
}

// Resolve implements LinkResolver.
func (r *LineupSourced) Resolve(ctx context.Context, rc RunContext, ev *event.Event) (Resolution, error) {
	var res Resolution
	if ev.URL == "" {
		return res, nil
	}

	page, err := r.fetcher.FetchLineup(ctx, ev.URL)
	if err != nil {
		var nf *provider.ErrNotFound
		if errors.As(err, &nf) {
			r.logger.Warn("event page not found",
				slog.String("event", ev.ExternalID), slog.String("url", ev.URL))
			return res, nil
		}
		return res, fmt.Errorf("fetching lineup for event %s: %w", ev.ExternalID, err)
	}
	res.Parsed = true
	res.Mentions = len(page.Mentions)

	for _, m := range page.Mentions {
		a, created, err := r.artistFor(ctx, rc, m)
		if err != nil {
			res.Errors++
			r.logger.Error("resolving lineup mention",
				slog.String("event", ev.ExternalID),
				slog.String("external_id", m.ExternalID),
				slog.String("run_id", rc.RunID),
				slog.Any("error", err))
			continue
		}
		detail := "lineup:" + page.Strategy
		if created {
			res.StubsCreated++
			detail += ":stub"
		}
		res.Candidates = append(res.Candidates, Candidate{
			ArtistID:    a.ID,
			Confidence:  match.ScoreExact,
			Source:      link.SourceLineup,
			MatchDetail: detail,
			Role:        m.Role,
		})
	}
	return res, nil
}

func (r *LineupSourced) artistFor(ctx context.Context, rc RunContext, m lineup.Mention) (*artist.Artist, bool, error) {
	a, err := r.artists.GetByExternalID(ctx, m.ExternalID)
	if err != nil {
		return nil, false, err
	}
	if a != nil {
		return a, false, nil
	}
	a, err = r.artists.CreateStub(ctx, m.ExternalID, m.Name, m.ProfileURL, rc.RunID)
	if err != nil {
		return nil, false, err
	}
	r.logger.Info("stub artist created",
		slog.String("external_id", m.ExternalID),
		slog.String("name", m.Name),
		slog.String("run_id", rc.RunID))
	if r.onStub != nil {
		r.onStub(a)
	}
	return a, true, nil
}

// TextSourced scores every known artist against an event's title and the
// names billed in its subtitle, keeping the best mention per artist.
type TextSourced struct {
	artists []artist.Artist
}

// NewTextSourced creates a text resolver over a fixed set of artists.
func NewTextSourced(artists []artist.Artist) *TextSourced {
	return &TextSourced{artists: artists}
}

// Resolve implements LinkResolver. It never fails.
func (r *TextSourced) Resolve(_ context.Context, _ RunContext, ev *event.Event) (Resolution, error) {
	texts := EventTexts(ev)
	res := Resolution{Mentions: len(texts)}
	for i := range r.artists {
		a := &r.artists[i]
		best, mention := bestMatch(a.Title, texts)
		if best.Score <= 0 {
			continue
		}
		res.Candidates = append(res.Candidates, Candidate{
			ArtistID:    a.ID,
			Confidence:  best.Score,
			Source:      link.SourceAutoMatcher,
			MatchDetail: fmt.Sprintf("%s:%q", best.Rule, mention),
		})
	}
	return res, nil
}

// EventTexts returns the strings an event's artists are matched against:
// the full title followed by names billed in the title and subtitle.
func EventTexts(ev *event.Event) []string {
	var texts []string
	seen := make(map[string]struct{})
	add := func(s string) {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		texts = append(texts, strings.TrimSpace(s))
	}
	add(ev.Title)
	for _, n := range lineup.ExtractMentions(ev.Title) {
		add(n)
	}
	for _, n := range lineup.ExtractMentions(ev.Subtitle) {
		add(n)
	}
	return texts
}

func bestMatch(name string, texts []string) (match.Result, string) {
	var best match.Result
	var mention string
	for _, t := range texts {
		r := match.Evaluate(name, t)
		if r.Score > best.Score {
			best, mention = r, t
		}
	}
	return best, mention
}
