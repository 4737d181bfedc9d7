package templock

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MainCategory is counted on every attempt in addition to the caller's
// categories.
const MainCategory = "main"

// Matcher decides whether a strategy applies to a category.
//
// *regexp.Regexp satisfies Matcher, so patterns can be used directly.
type Matcher interface {
	MatchString(category string) bool
}

// Exact matches a single category by string equality.
type Exact string

// MatchString reports whether category equals e.
func (e Exact) MatchString(category string) bool {
	return string(e) == category
}

func (e Exact) String() string {
	return string(e)
}

// MatcherFunc adapts a predicate to a Matcher.
type MatcherFunc func(category string) bool

// MatchString calls f(category).
func (f MatcherFunc) MatchString(category string) bool {
	return f(category)
}

// Strategy binds a category matcher to an attempt threshold and a lock
// duration.
type Strategy struct {
	Name     string
	Category Matcher
	Attempts int
	LockFor  time.Duration
}

// BuildStrategy returns an unnamed strategy matching category exactly.
func BuildStrategy(category string, attempts int, lockFor time.Duration) Strategy {
	return Strategy{
		Category: Exact(category),
		Attempts: attempts,
		LockFor:  lockFor,
	}
}

// DefaultStrategy is the catch-all used when no strategies are configured:
// 10 attempts on "main" lock the item for a minute.
func DefaultStrategy() Strategy {
	return Strategy{
		Name:     MainCategory,
		Category: Exact(MainCategory),
		Attempts: 10,
		LockFor:  60 * time.Second,
	}
}

// ParseCategory turns a configured category into a Matcher. A value wrapped in
// slashes, like "/^user_[0-9]/", is compiled as a regular expression; anything
// else matches exactly.
func ParseCategory(s string) (Matcher, error) {
	if len(s) >= 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/") {
		re, err := regexp.Compile(s[1 : len(s)-1])
		if err != nil {
			return nil, fmt.Errorf("%w: category pattern %q: %v", ErrConfiguration, s, err)
		}
		return re, nil
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty category", ErrConfiguration)
	}
	return Exact(s), nil
}

// MustParseCategory is ParseCategory for constant categories. It panics on
// error.
func MustParseCategory(s string) Matcher {
	m, err := ParseCategory(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MatcherString renders a matcher for logs and events: exact categories as
// themselves, patterns in slashes.
func MatcherString(m Matcher) string {
	switch v := m.(type) {
	case nil:
		return ""
	case Exact:
		return string(v)
	case *regexp.Regexp:
		if v == nil {
			return ""
		}
		return "/" + v.String() + "/"
	case MatcherFunc:
		return "func"
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprintf("%T", m)
}

// Label names the strategy for logs: its Name, else its matcher.
func (s Strategy) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return MatcherString(s.Category)
}

func validMatcher(m Matcher) bool {
	switch v := m.(type) {
	case nil:
		return false
	case *regexp.Regexp:
		return v != nil
	case MatcherFunc:
		return v != nil
	}
	return true
}

// Validate checks the strategy can be evaluated and locked with.
func (s Strategy) Validate() error {
	if !validMatcher(s.Category) {
		return fmt.Errorf("%w: strategy %q has no usable category matcher", ErrConfiguration, s.Name)
	}
	if s.Attempts <= 0 {
		return fmt.Errorf("%w: strategy %q attempts must be > 0", ErrConfiguration, s.Label())
	}
	if s.LockFor < time.Second {
		return fmt.Errorf("%w: strategy %q lock duration must be at least 1s, got %s", ErrConfiguration, s.Label(), s.LockFor)
	}
	return nil
}

func validateStrategies(strategies []Strategy) error {
	for i, s := range strategies {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("strategy %d: %w", i, err)
		}
	}
	return nil
}

// MatchStrategies returns the strategies whose matcher accepts category, in
// table order. Any strategy without a usable matcher fails the whole call,
// matched or not.
func MatchStrategies(strategies []Strategy, category string) ([]Strategy, error) {
	var out []Strategy
	for i, s := range strategies {
		if !validMatcher(s.Category) {
			return nil, fmt.Errorf("%w: strategy %d has an invalid category matcher %T", ErrConfiguration, i, s.Category)
		}
		if s.Category.MatchString(category) {
			out = append(out, s)
		}
	}
	return out, nil
}

func cloneStrategies(in []Strategy) []Strategy {
	if in == nil {
		return nil
	}
	out := make([]Strategy, len(in))
	copy(out, in)
	return out
}
