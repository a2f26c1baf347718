package fetcher_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poetry-feed/pkg/fetcher"
)

func fixedID() int64 { return 777 }

func TestDecode_PoetExtraction(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantName     string
		wantFullName string
		wantPoetID   int64
	}{
		{
			name:         "poet.name wins over fullTitle",
			body:         `{"id":10,"plainText":"x","poet":{"id":2,"name":"حافظ","fullName":"حافظ شیرازی"},"fullTitle":"سعدی » گلستان"}`,
			wantName:     "حافظ",
			wantFullName: "حافظ شیرازی",
			wantPoetID:   2,
		},
		{
			name:         "fullName defaults to name",
			body:         `{"id":10,"text":"x","poet":{"id":2,"name":"Hafez"}}`,
			wantName:     "Hafez",
			wantFullName: "Hafez",
			wantPoetID:   2,
		},
		{
			name:         "first fullTitle segment",
			body:         `{"id":10,"plainText":"x","fullTitle":"X » Y","sections":[{"poetId":9}]}`,
			wantName:     "X",
			wantFullName: "X",
			wantPoetID:   9,
		},
		{
			name:         "fullTitle without sections uses synthetic id",
			body:         `{"id":10,"plainText":"x","fullTitle":"مولانا » مثنوی » دفتر اول"}`,
			wantName:     "مولانا",
			wantFullName: "مولانا",
			wantPoetID:   777,
		},
		{
			name:         "sections only gives placeholder",
			body:         `{"id":10,"plainText":"x","sections":[{"poetId":5}]}`,
			wantName:     "شاعر 5",
			wantFullName: "شاعر 5",
			wantPoetID:   5,
		},
		{
			name:         "blank poet.name falls through",
			body:         `{"id":10,"plainText":"x","poet":{"name":"  "},"fullTitle":"فردوسی » شاهنامه"}`,
			wantName:     "فردوسی",
			wantFullName: "فردوسی",
			wantPoetID:   777,
		},
		{
			name:         "blank fullTitle segment falls through to sections",
			body:         `{"id":10,"plainText":"x","fullTitle":" » Y","sections":[{"poetId":3}]}`,
			wantName:     "شاعر 3",
			wantFullName: "شاعر 3",
			wantPoetID:   3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poem, err := fetcher.Decode([]byte(tt.body), fixedID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, poem.Poet.Name)
			assert.Equal(t, tt.wantFullName, poem.Poet.FullName)
			assert.Equal(t, tt.wantPoetID, poem.Poet.ID)
		})
	}
}

func TestDecode_TextAndTitle(t *testing.T) {
	poem, err := fetcher.Decode([]byte(`{"id":1,"plainText":"a\r\nb\nc","text":"ignored","poet":{"name":"p"}}`), fixedID)
	require.NoError(t, err)
	assert.Equal(t, "a\r\nb\nc", poem.Text)
	assert.Equal(t, "a<br/>b<br/>c", poem.HTMLText)
	assert.Equal(t, fetcher.UntitledPoem, poem.Title)

	poem, err = fetcher.Decode([]byte(`{"id":1,"title":"غزل","text":"t","htmlText":"<p>t</p>","poet":{"name":"p"}}`), fixedID)
	require.NoError(t, err)
	assert.Equal(t, "غزل", poem.Title)
	assert.Equal(t, "t", poem.Text)
	assert.Equal(t, "<p>t</p>", poem.HTMLText)
	assert.True(t, poem.Valid())
}

func TestDecode_HTMLTextOnly(t *testing.T) {
	poem, err := fetcher.Decode([]byte(`{"id":1,"htmlText":"one<br/>two","poet":{"name":"p"}}`), fixedID)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo", poem.Text)
	assert.Equal(t, "one<br/>two", poem.HTMLText)
}

func TestDecode_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"empty", "  \n", fetcher.ErrEmptyBody},
		{"html error page", "<html>oops</html>", fetcher.ErrInvalidJSON},
		{"truncated", `{"id":1,`, fetcher.ErrInvalidJSON},
		{"array", `[1,2]`, fetcher.ErrNotObject},
		{"string", `"poem"`, fetcher.ErrNotObject},
		{"no id", `{"plainText":"x","poet":{"name":"p"}}`, fetcher.ErrMissingID},
		{"no poet", `{"id":1,"plainText":"x","title":"t"}`, fetcher.ErrMissingPoet},
		{"no text", `{"id":1,"poet":{"name":"p"}}`, fetcher.ErrMissingText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fetcher.Decode([]byte(tt.body), fixedID)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPoemID(t *testing.T) {
	assert.Equal(t, int64(42), fetcher.PoemID([]byte(`{"id":42}`)))
	assert.Zero(t, fetcher.PoemID([]byte(`not json`)))
}
