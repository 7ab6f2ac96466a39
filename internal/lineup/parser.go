package lineup

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Strategy is one DOM selector tried against a detail page. Strategies run
// in order and the first one that yields a mention wins.
type Strategy struct {
	Name     string
	Selector string
}

// DefaultStrategies lists selectors from the most specific lineup container
// to any link on the page.
var DefaultStrategies = []Strategy{
	{Name: "lineup_container", Selector: `[class*="lineup"] a[href], [id*="lineup"] a[href]`},
	{Name: "artist_section", Selector: `[class*="artist"] a[href], [data-section="artists"] a[href]`},
	{Name: "profile_links", Selector: `a[href]`},
}

// Result is the outcome of parsing one page.
type Result struct {
	Mentions []Mention `json:"mentions"`
	// Strategy names the selector strategy that matched, "json_ld" for the
	// structured-data fallback, or "" when nothing was found.
	Strategy string `json:"strategy"`
}

// Parser extracts artist mentions from event detail pages.
type Parser struct {
	profile    *regexp.Regexp
	strategies []Strategy
}

// NewParser builds a parser for profile URLs of the form
// /<segment>/<slug>/<numericId>/.
func NewParser(profileSegment string, strategies ...Strategy) *Parser {
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}
	segment := regexp.QuoteMeta(strings.Trim(profileSegment, "/"))
	return &Parser{
		profile:    regexp.MustCompile(`/` + segment + `/([^/?#]+)/(\d+)/?(?:[?#]|$)`),
		strategies: strategies,
	}
}

// Parse reads one page. pageURL resolves relative profile links and may be "".
func (p *Parser) Parse(r io.Reader, pageURL string) (Result, error) {
	root, err := html.Parse(r)
	if err != nil {
		return Result{}, fmt.Errorf("parsing html: %w", err)
	}
	return p.ParseDocument(goquery.NewDocumentFromNode(root), pageURL), nil
}

// ParseDocument runs the strategies against an already parsed document.
func (p *Parser) ParseDocument(doc *goquery.Document, pageURL string) Result {
	base, _ := url.Parse(pageURL)

	for _, s := range p.strategies {
		if mentions := p.fromLinks(doc.Find(s.Selector), base); len(mentions) > 0 {
			return Result{Mentions: mentions, Strategy: s.Name}
		}
	}
	if mentions := p.fromLinkedData(doc, base); len(mentions) > 0 {
		return Result{Mentions: mentions, Strategy: "json_ld"}
	}
	return Result{Mentions: []Mention{}}
}

// ExternalID returns the numeric id from a profile URL, or "".
func (p *Parser) ExternalID(href string) string {
	m := p.profile.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	return m[2]
}

func (p *Parser) fromLinks(sel *goquery.Selection, base *url.URL) []Mention {
	var mentions []Mention
	seen := make(map[string]struct{})

	sel.Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := p.profile.FindStringSubmatch(href)
		if m == nil {
			return
		}
		id := m[2]
		if _, dup := seen[id]; dup {
			return
		}

		text := a.Text()
		name := nameFrom(text)
		if name == "" {
			name = attrFallback(a)
		}
		if name == "" {
			name = slugName(m[1])
		}

		role := roleFrom(text)
		if role == "" {
			// Only trust the parent's text when this is its sole profile link.
			parent := a.Parent()
			if parent.Find("a[href]").Length() == 1 {
				role = roleFrom(parent.Text())
			}
		}

		seen[id] = struct{}{}
		mentions = append(mentions, Mention{
			ExternalID: id,
			Name:       name,
			ProfileURL: resolve(base, href),
			Role:       role,
		})
	})
	return mentions
}

func (p *Parser) fromLinkedData(doc *goquery.Document, base *url.URL) []Mention {
	var mentions []Mention
	seen := make(map[string]struct{})

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return
		}
		for _, perf := range collectPerformers(data) {
			href, _ := perf["url"].(string)
			id := p.ExternalID(href)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			name, _ := perf["name"].(string)
			mentions = append(mentions, Mention{
				ExternalID: id,
				Name:       nameFrom(name),
				ProfileURL: resolve(base, href),
				Role:       roleFrom(name),
			})
		}
	})
	return mentions
}

// collectPerformers walks a decoded JSON-LD value and returns every object
// found under a "performer" or "performers" key, including inside @graph.
func collectPerformers(v any) []map[string]any {
	var out []map[string]any
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			out = append(out, collectPerformers(item)...)
		}
	case map[string]any:
		for _, key := range []string{"performer", "performers"} {
			switch perf := node[key].(type) {
			case map[string]any:
				out = append(out, perf)
			case []any:
				for _, item := range perf {
					if m, ok := item.(map[string]any); ok {
						out = append(out, m)
					}
				}
			}
		}
		if graph, ok := node["@graph"]; ok {
			out = append(out, collectPerformers(graph)...)
		}
		if sub, ok := node["subEvent"]; ok {
			out = append(out, collectPerformers(sub)...)
		}
	}
	return out
}

func attrFallback(a *goquery.Selection) string {
	if t, ok := a.Attr("title"); ok && strings.TrimSpace(t) != "" {
		return nameFrom(t)
	}
	if alt, ok := a.Find("img[alt]").First().Attr("alt"); ok {
		return nameFrom(alt)
	}
	return ""
}

func slugName(slug string) string {
	words := strings.Fields(strings.ReplaceAll(slug, "-", " "))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func resolve(base *url.URL, href string) string {
	if base == nil || base.Host == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
