package domain

import "testing"

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		in     string
		want   Language
		wantOK bool
	}{
		{"fa", Persian, true},
		{" EN ", English, true},
		{"de", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseLanguage(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseLanguage(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestPoem_Valid(t *testing.T) {
	poet := Poet{ID: 1, Name: "حافظ"}

	if !(Poem{ID: 1, Text: "line", Poet: poet}).Valid() {
		t.Error("expected poem with text and poet to be valid")
	}
	if !(Poem{ID: 1, HTMLText: "a<br/>b", Poet: poet}).Valid() {
		t.Error("expected poem with only htmlText to be valid")
	}
	if (Poem{ID: 1, Text: "  ", Poet: poet}).Valid() {
		t.Error("expected blank text to be invalid")
	}
	if (Poem{ID: 1, Text: "line"}).Valid() {
		t.Error("expected missing poet name to be invalid")
	}
}
