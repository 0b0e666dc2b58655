package eligibility

import (
	"slices"
	"testing"
)

func TestRule_Matches(t *testing.T) {
	r := NewRule([]string{"/content/site/en", "/content/site/de"})

	tests := []struct {
		path string
		want bool
	}{
		{"/content/site/en/home.model.json", true},
		{"/content/site/de/produkte.model.json", true},
		{"/content/site/fr/accueil.model.json", false},
		{"/content/site", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := r.Matches(tt.path); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestRule_Normalizes(t *testing.T) {
	r := NewRule([]string{" /a ", "", "/b", "/a", "  "})
	if got := r.Prefixes(); !slices.Equal(got, []string{"/a", "/b"}) {
		t.Fatalf("Prefixes() = %v", got)
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
}

func TestRule_PrefixesIsCopy(t *testing.T) {
	r := NewRule([]string{"/a"})
	p := r.Prefixes()
	p[0] = "/mutated"
	if !r.Matches("/a/x") {
		t.Fatal("mutating Prefixes() result changed the rule")
	}
}

func TestRule_Hash(t *testing.T) {
	a := NewRule([]string{"/a", "/b"})
	b := NewRule([]string{"/a", "/b", "/a"})
	c := NewRule([]string{"/b", "/a"})
	if a.Hash() != b.Hash() {
		t.Fatal("equal prefix lists should hash equal")
	}
	if a.Hash() == c.Hash() {
		t.Fatal("order is significant")
	}
	if NewRule([]string{"/ab"}).Hash() == NewRule([]string{"/a", "b"}).Hash() {
		t.Fatal("entries must be delimited in the hash")
	}
}

func TestRule_Nil(t *testing.T) {
	var r *Rule
	if r.Matches("/content") || r.Len() != 0 || r.Hash() != "" || r.Prefixes() != nil {
		t.Fatal("nil rule should match nothing and report empty")
	}
}

func TestParseList(t *testing.T) {
	got := NewRule(ParseList("/a,/b\n/c\r\n,, /d ")).Prefixes()
	want := []string{"/a", "/b", "/c", "/d"}
	if !slices.Equal(got, want) {
		t.Fatalf("ParseList = %v, want %v", got, want)
	}
}

func TestManager(t *testing.T) {
	m := NewManager()
	if m.Matches("/a") {
		t.Fatal("empty manager should match nothing")
	}
	if err := m.ReadyErr(); err != ErrNoRule {
		t.Fatalf("ReadyErr() = %v, want ErrNoRule", err)
	}

	m.Set(NewRule([]string{"/a"}), SourceStatic)
	if !m.Matches("/a/b") {
		t.Fatal("manager should use the installed rule")
	}
	if err := m.ReadyErr(); err != nil {
		t.Fatalf("ReadyErr() = %v", err)
	}
	snap, ok := m.Get()
	if !ok || snap.Source != SourceStatic || snap.LoadedAt.IsZero() {
		t.Fatalf("Get() = %+v, %v", snap, ok)
	}

	m.Set(NewRule([]string{"/z"}), SourceFile)
	if m.Matches("/a/b") || !m.Matches("/z") {
		t.Fatal("Set should replace the whole rule")
	}
}
