package domain

import (
	"strings"
	"time"
)

// Language identifies the display language of the feed.
type Language string

const (
	// Persian is the default language; the remote endpoint only serves Persian poems.
	Persian Language = "fa"
	// English is served from bundled translations only.
	English Language = "en"
)

// ParseLanguage normalizes a language code. Unknown codes return false.
func ParseLanguage(s string) (Language, bool) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case Persian:
		return Persian, true
	case English:
		return English, true
	default:
		return "", false
	}
}

// Poet identifies the author of a poem. ID may be synthesized when the
// remote source does not provide one.
type Poet struct {
	ID       int64  `json:"id" bson:"id"`
	Name     string `json:"name" bson:"name"`
	FullName string `json:"fullName" bson:"full_name"`
}

// Poem is a single feed item. Treat it as immutable once constructed.
type Poem struct {
	ID       int64  `json:"id" bson:"poem_id"`
	Title    string `json:"title" bson:"title"`
	Text     string `json:"text" bson:"text"`
	HTMLText string `json:"htmlText" bson:"html_text"`
	Poet     Poet   `json:"poet" bson:"poet"`
}

// Valid reports whether the poem satisfies the feed invariant: some verse
// content and a named poet.
func (p Poem) Valid() bool {
	hasContent := strings.TrimSpace(p.Text) != "" || strings.TrimSpace(p.HTMLText) != ""
	return hasContent && strings.TrimSpace(p.Poet.Name) != ""
}

// ArchivedPoem is a remotely fetched poem as stored in the archive.
type ArchivedPoem struct {
	Poem      `bson:",inline"`
	FetchedAt time.Time `json:"fetchedAt" bson:"fetched_at"`
}
