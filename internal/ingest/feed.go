package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"opsdiag/internal/domain"
)

// FeedSource reads an RSS or Atom feed, e.g. a carrier status or ticket feed.
type FeedSource struct {
	URL    string
	Client *http.Client
}

func (s *FeedSource) Fetch(ctx context.Context) ([]domain.InboundItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status: %d", resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feedItems(feed), nil
}

func feedItems(feed *gofeed.Feed) []domain.InboundItem {
	items := make([]domain.InboundItem, 0, len(feed.Items))
	for idx, it := range feed.Items {
		body := strings.TrimSpace(it.Content)
		if body == "" {
			body = strings.TrimSpace(it.Description)
		}
		item := domain.InboundItem{
			ID:      fmt.Sprintf("feed-%d", idx+1),
			Subject: strings.TrimSpace(it.Title),
			Body:    body,
			Source:  ModeFeed,
		}
		switch {
		case it.PublishedParsed != nil:
			ts := *it.PublishedParsed
			item.Timestamp = &ts
		case it.UpdatedParsed != nil:
			ts := *it.UpdatedParsed
			item.Timestamp = &ts
		}
		if it.Author != nil {
			item.Sender = authorString(it.Author)
		} else if len(it.Authors) > 0 && it.Authors[0] != nil {
			item.Sender = authorString(it.Authors[0])
		}
		items = append(items, item)
	}
	return items
}

func authorString(p *gofeed.Person) string {
	switch {
	case p.Name != "" && p.Email != "":
		return fmt.Sprintf("%s <%s>", p.Name, p.Email)
	case p.Name != "":
		return p.Name
	default:
		return p.Email
	}
}
