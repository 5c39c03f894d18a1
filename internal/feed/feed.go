// Package feed polls an HTML listing page for new text posts and
// normalizes each into an Event the bus can carry.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/reciperun/pipeline/internal/model"
)

// Event is one normalized feed item, ready to be published to the bus
// or fed straight into the local parser.
type Event struct {
	Date        time.Time
	Title       string
	Author      string
	NumComments int
	Text        string
	CharCount   int
}

// Source describes how to fetch and parse one feed's listing page into
// individual posts.
type Source struct {
	ID  string
	URL string
	// Selector yields one goquery.Selection per post on the listing page.
	Selector string
}

var sources = map[string]Source{
	"recipes": {ID: "recipes", URL: "https://old.reddit.com/r/recipes/new/", Selector: "div.thing"},
}

// Poller fetches recent posts from a named source.
type Poller struct {
	client *http.Client
}

// NewPoller constructs a Poller with a bounded HTTP client, matching the
// timeout discipline of a one-shot scrape call.
func NewPoller() *Poller {
	return &Poller{client: &http.Client{Timeout: 30 * time.Second}}
}

// FetchRecent retrieves up to limit posts from sourceID, oldest filtered
// out, normalized into Events.
func (p *Poller) FetchRecent(ctx context.Context, sourceID string, limit int) ([]Event, error) {
	source, ok := sources[sourceID]
	if !ok {
		return nil, &model.ValidationError{Field: "source_id", Reason: fmt.Sprintf("unknown feed source %q", sourceID)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; RecipePipelineBot/1.0)")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", sourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned status %d", sourceID, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", sourceID, err)
	}

	var events []Event
	doc.Find(source.Selector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if len(events) >= limit {
			return false
		}
		if e, ok := parsePost(s); ok {
			events = append(events, e)
		}
		return true
	})

	return events, nil
}

func parsePost(s *goquery.Selection) (Event, bool) {
	title := strings.TrimSpace(s.Find("a.title").First().Text())
	if title == "" {
		return Event{}, false
	}

	author := strings.TrimSpace(s.Find("a.author").First().Text())
	body := strings.TrimSpace(s.Find("div.usertext-body").First().Text())

	event := Event{
		Date:        time.Now(),
		Title:       title,
		Author:      author,
		NumComments: parseCommentCount(s.Find("a.comments").First().Text()),
		Text:        body,
		CharCount:   utf8.RuneCountInString(body),
	}
	return event, true
}

func parseCommentCount(text string) int {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	n := 0
	for _, r := range fields[0] {
		if r < '0' || r > '9' {
			if n == 0 {
				continue
			}
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}
