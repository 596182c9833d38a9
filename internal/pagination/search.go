package pagination

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/alexjbarnes/fieldsync/internal/debounce"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultSearchDebounce is how long search input must stay unchanged
	// before it is applied.
	DefaultSearchDebounce = 250 * time.Millisecond

	// MinSearchRunes is the shortest non-empty search that is applied.
	MinSearchRunes = 3
)

// NormalizeSearch returns the NFKC form of text without surrounding
// whitespace.
func NormalizeSearch(text string) string {
	return strings.TrimSpace(norm.NFKC.String(text))
}

// SearchEligible reports whether normalized search text may be applied:
// empty (clears the filter) or at least MinSearchRunes long.
func SearchEligible(normalized string) bool {
	return normalized == "" || utf8.RuneCountInString(normalized) >= MinSearchRunes
}

// Search debounces search input and applies it once it settles.
type Search struct {
	deb   *debounce.Debouncer
	apply func(text string)

	mu      sync.Mutex
	applied string
}

// NewSearch creates a Search that calls apply with the settled text. A
// nil after uses the runtime timer.
func NewSearch(delay time.Duration, after debounce.AfterFunc, apply func(text string)) *Search {
	return &Search{deb: debounce.New(delay, after), apply: apply}
}

// Input records new search text. Ineligible text cancels any pending
// apply; eligible text is applied after the debounce window unless it
// equals the text already applied.
func (s *Search) Input(text string) {
	normalized := NormalizeSearch(text)

	if !SearchEligible(normalized) {
		s.deb.Stop()
		return
	}

	s.deb.Trigger(func() {
		s.mu.Lock()
		if normalized == s.applied {
			s.mu.Unlock()
			return
		}

		s.applied = normalized
		s.mu.Unlock()

		s.apply(normalized)
	})
}

// Applied returns the last applied search text.
func (s *Search) Applied() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applied
}

// Stop cancels any pending apply.
func (s *Search) Stop() {
	s.deb.Stop()
}
