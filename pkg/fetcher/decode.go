package fetcher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"poetry-feed/pkg/content"
	"poetry-feed/pkg/domain"
)

// UntitledPoem is used when the source omits a title.
const UntitledPoem = "بدون عنوان"

const fullTitleSeparator = " » "

var (
	// ErrEmptyBody is returned for a blank response body.
	ErrEmptyBody = errors.New("empty response body")
	// ErrInvalidJSON is returned when the body is not well-formed JSON.
	ErrInvalidJSON = errors.New("invalid JSON")
	// ErrNotObject is returned for well-formed JSON that is not an object.
	ErrNotObject = errors.New("response is not a JSON object")
	// ErrMissingID is returned when the poem has no usable id.
	ErrMissingID = errors.New("poem id missing")
	// ErrMissingPoet is returned when no response shape yields a poet name.
	ErrMissingPoet = errors.New("poet name missing")
	// ErrMissingText is returned when neither text nor htmlText is present.
	ErrMissingText = errors.New("poem text missing")
)

// PoemID returns the top-level id of a JSON object body, or 0.
func PoemID(body []byte) int64 {
	return gjson.GetBytes(body, "id").Int()
}

// Decode turns one random-poem response into a Poem. syntheticID supplies a
// poet id when the composite-title shape carries none.
//
// Poet info is taken from the first shape that yields a name:
//  1. poet.name (fullName defaults to name)
//  2. fullTitle "Poet » Work", poet id from sections[0].poetId
//  3. sections[0].poetId alone, with a placeholder name
func Decode(body []byte, syntheticID func() int64) (domain.Poem, error) {
	if strings.TrimSpace(string(body)) == "" {
		return domain.Poem{}, ErrEmptyBody
	}
	if !gjson.ValidBytes(body) {
		return domain.Poem{}, ErrInvalidJSON
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return domain.Poem{}, ErrNotObject
	}

	id := doc.Get("id").Int()
	if id == 0 {
		return domain.Poem{}, ErrMissingID
	}

	poet, ok := extractPoet(doc, syntheticID)
	if !ok {
		return domain.Poem{}, ErrMissingPoet
	}

	text := firstNonBlank(doc.Get("plainText").String(), doc.Get("text").String())
	htmlText := doc.Get("htmlText").String()
	if text == "" && strings.TrimSpace(htmlText) != "" {
		derived, err := content.TextFromHTML(htmlText)
		if err != nil {
			return domain.Poem{}, fmt.Errorf("%w: %v", ErrMissingText, err)
		}
		text = derived
	}
	if text == "" {
		return domain.Poem{}, ErrMissingText
	}
	if strings.TrimSpace(htmlText) == "" {
		htmlText = content.HTMLFromText(text)
	}

	title := doc.Get("title").String()
	if strings.TrimSpace(title) == "" {
		title = UntitledPoem
	}

	return domain.Poem{
		ID:       id,
		Title:    title,
		Text:     text,
		HTMLText: htmlText,
		Poet:     poet,
	}, nil
}

func extractPoet(doc gjson.Result, syntheticID func() int64) (domain.Poet, bool) {
	if name := strings.TrimSpace(doc.Get("poet.name").String()); name != "" {
		return domain.Poet{
			ID:       doc.Get("poet.id").Int(),
			Name:     name,
			FullName: firstNonBlank(doc.Get("poet.fullName").String(), name),
		}, true
	}

	sectionPoetID := doc.Get("sections.0.poetId").Int()

	if fullTitle := doc.Get("fullTitle").String(); fullTitle != "" {
		name := strings.TrimSpace(strings.Split(fullTitle, fullTitleSeparator)[0])
		if name != "" {
			id := sectionPoetID
			if id == 0 {
				id = syntheticID()
			}
			return domain.Poet{ID: id, Name: name, FullName: name}, true
		}
	}

	if sectionPoetID != 0 {
		name := fmt.Sprintf("شاعر %d", sectionPoetID)
		return domain.Poet{ID: sectionPoetID, Name: name, FullName: name}, true
	}

	return domain.Poet{}, false
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
