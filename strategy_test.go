package templock

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestDefaultStrategy(t *testing.T) {
	s := DefaultStrategy()
	if s.Category != Exact(MainCategory) || s.Attempts != 10 || s.LockFor != 60*time.Second {
		t.Fatalf("unexpected default strategy: %+v", s)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("default strategy must be valid: %v", err)
	}
}

func TestBuildStrategy(t *testing.T) {
	s := BuildStrategy("login", 4, 30*time.Second)
	if s.Name != "" || s.Category != Exact("login") || s.Attempts != 4 || s.LockFor != 30*time.Second {
		t.Fatalf("unexpected strategy: %+v", s)
	}
	if s.Label() != "login" {
		t.Fatalf("expected label to fall back to matcher, got %q", s.Label())
	}
}

func TestParseCategory(t *testing.T) {
	m, err := ParseCategory("/^user_[0-9]/")
	if err != nil {
		t.Fatalf("ParseCategory failed: %v", err)
	}
	if _, ok := m.(*regexp.Regexp); !ok {
		t.Fatalf("expected *regexp.Regexp, got %T", m)
	}
	if !m.MatchString("user_5") || m.MatchString("users_5") || m.MatchString("main") {
		t.Fatal("pattern matched the wrong categories")
	}
	if MatcherString(m) != "/^user_[0-9]/" {
		t.Fatalf("unexpected rendering %q", MatcherString(m))
	}

	m, err = ParseCategory("login")
	if err != nil {
		t.Fatalf("ParseCategory failed: %v", err)
	}
	if m != Exact("login") {
		t.Fatalf("expected Exact(login), got %#v", m)
	}

	// A lone slash is an exact category.
	m, err = ParseCategory("/")
	if err != nil || m != Exact("/") {
		t.Fatalf("expected Exact(/), got %#v, %v", m, err)
	}

	if _, err := ParseCategory("/[/"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for bad pattern, got %v", err)
	}
	if _, err := ParseCategory(""); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for empty category, got %v", err)
	}
}

func TestExactMatchIsNotSubstring(t *testing.T) {
	if Exact("main").MatchString("mainframe") {
		t.Fatal("exact matcher must not match prefixes")
	}
	if !Exact("main").MatchString("main") {
		t.Fatal("exact matcher must match itself")
	}
}

func TestMatchStrategies(t *testing.T) {
	strategies := []Strategy{
		{Name: "user", Category: regexp.MustCompile(`^user_[0-9]`), Attempts: 3, LockFor: 2 * time.Second},
		{Name: "main", Category: Exact("main"), Attempts: 5, LockFor: 2 * time.Second},
		{Name: "short", Category: MatcherFunc(func(c string) bool { return len(c) <= 4 }), Attempts: 7, LockFor: time.Second},
	}

	cases := []struct {
		category string
		want     []string
	}{
		{"user_5", []string{"user"}},
		{"main", []string{"main", "short"}},
		{"users_5", nil},
		{"user_12345", []string{"user"}},
		{"ip", []string{"short"}},
	}

	for _, tc := range cases {
		got, err := MatchStrategies(strategies, tc.category)
		if err != nil {
			t.Fatalf("MatchStrategies(%q) failed: %v", tc.category, err)
		}
		names := make([]string, 0, len(got))
		for _, s := range got {
			names = append(names, s.Name)
		}
		if strings.Join(names, ",") != strings.Join(tc.want, ",") {
			t.Fatalf("MatchStrategies(%q) = %v, want %v", tc.category, names, tc.want)
		}
	}
}

func TestMatchStrategiesRejectsInvalidMatcher(t *testing.T) {
	var nilPattern *regexp.Regexp
	for _, m := range []Matcher{nil, nilPattern, MatcherFunc(nil)} {
		strategies := []Strategy{DefaultStrategy(), {Category: m, Attempts: 1, LockFor: time.Second}}
		if _, err := MatchStrategies(strategies, "main"); !errors.Is(err, ErrConfiguration) {
			t.Fatalf("matcher %#v: expected ErrConfiguration, got %v", m, err)
		}
	}
}

func TestStrategyValidate(t *testing.T) {
	bad := []Strategy{
		{Category: Exact("a"), Attempts: 0, LockFor: time.Second},
		{Category: Exact("a"), Attempts: 1, LockFor: 0},
		{Category: Exact("a"), Attempts: 1, LockFor: 60},
		{Category: Exact("a"), Attempts: 1, LockFor: 999 * time.Millisecond},
		{Attempts: 1, LockFor: time.Second},
	}
	for i, s := range bad {
		if err := s.Validate(); !errors.Is(err, ErrConfiguration) {
			t.Fatalf("case %d: expected ErrConfiguration, got %v", i, err)
		}
	}

	ok := Strategy{Category: Exact("a"), Attempts: 1, LockFor: time.Second}
	if err := ok.Validate(); err != nil {
		t.Fatalf("1s lock should be valid: %v", err)
	}
}

func TestNormalizeCategories(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, "main"},
		{[]string{"login"}, "login,main"},
		{[]string{"main", "login"}, "main,login"},
		{[]string{"a", "", "a", "b"}, "a,b,main"},
	}
	for _, tc := range cases {
		if got := strings.Join(normalizeCategories(tc.in), ","); got != tc.want {
			t.Fatalf("normalizeCategories(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestKeyLayout(t *testing.T) {
	if got := countKey("alice", "login"); got != "count:5:alice:login" {
		t.Fatalf("unexpected count key %q", got)
	}
	if countKey("a:b", "c") == countKey("a", "b:c") {
		t.Fatal("count keys must not collide for items containing separators")
	}
	if got := categorySetKey("alice"); got != "counter:alice" {
		t.Fatalf("unexpected set key %q", got)
	}
	if got := lockKey("alice"); got != "lock:alice" {
		t.Fatalf("unexpected lock key %q", got)
	}
}

func TestMustParseCategoryPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for invalid pattern")
		}
	}()
	MustParseCategory("/(/")
}
