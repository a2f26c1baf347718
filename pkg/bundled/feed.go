package bundled

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"poetry-feed/pkg/content"
	"poetry-feed/pkg/domain"
	"poetry-feed/pkg/fetcher"
)

var errNoPoems = errors.New("feed contains no usable poems")

// FeedImporter extends a pool from an RSS/Atom feed whose items are poems.
type FeedImporter struct {
	client     fetcher.Getter
	feedParser *gofeed.Parser
}

// NewFeedImporter creates an importer. client is normally an
// httpclient FeedClient.
func NewFeedImporter(client fetcher.Getter) *FeedImporter {
	return &FeedImporter{
		client:     client,
		feedParser: gofeed.NewParser(),
	}
}

// Import fetches feedURL and adds its poems to pool under lang.
func (i *FeedImporter) Import(ctx context.Context, pool *Pool, lang domain.Language, feedURL string) (int, error) {
	resp, err := i.client.Get(ctx, feedURL)
	if err != nil {
		return 0, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch feed %s: unexpected status %d", feedURL, resp.StatusCode)
	}

	feed, err := i.feedParser.Parse(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to parse RSS feed: %w", err)
	}

	poems := PoemsFromFeed(feed)
	if len(poems) == 0 {
		return 0, errNoPoems
	}
	return pool.Extend(lang, poems), nil
}

// PoemsFromFeed maps feed items to poems. The poet is the item author,
// else the feed author, else the feed title. An item without a title takes
// the first heading of its content. Item ids are derived from the
// GUID (or link) and are negative so they never collide with remote ids.
func PoemsFromFeed(feed *gofeed.Feed) []domain.Poem {
	if feed == nil {
		return nil
	}

	poems := make([]domain.Poem, 0, len(feed.Items))
	for _, item := range feed.Items {
		htmlText := firstNonBlank(item.Content, item.Description)
		if htmlText == "" {
			continue
		}
		text, err := content.TextFromHTML(htmlText)
		if err != nil || text == "" {
			continue
		}

		poet := poetName(feed, item)
		if poet == "" {
			continue
		}

		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = content.ExtractTitle(htmlText)
		}
		if title == "" {
			title = fetcher.UntitledPoem
		}

		poems = append(poems, domain.Poem{
			ID:       itemID(item),
			Title:    title,
			Text:     text,
			HTMLText: content.HTMLFromText(text),
			Poet:     domain.Poet{ID: nameID(poet), Name: poet, FullName: poet},
		})
	}
	return poems
}

func poetName(feed *gofeed.Feed, item *gofeed.Item) string {
	if item.Author != nil && strings.TrimSpace(item.Author.Name) != "" {
		return strings.TrimSpace(item.Author.Name)
	}
	if feed.Author != nil && strings.TrimSpace(feed.Author.Name) != "" {
		return strings.TrimSpace(feed.Author.Name)
	}
	return strings.TrimSpace(feed.Title)
}

func itemID(item *gofeed.Item) int64 {
	key := firstNonBlank(item.GUID, item.Link, item.Title)
	return -nameID(key)
}

func nameID(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64()>>1) | 1
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
