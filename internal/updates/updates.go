// Package updates decides whether to show an app update prompt.
//
// Precedence, highest first:
//
//  1. A mandatory update is shown only when connectivity is usable and the
//     quality probe reports good. Otherwise it is deferred to the next
//     check so a user in the field is not blocked by a download they
//     cannot complete.
//  2. An optional update already dismissed this session is not shown
//     again.
//  3. While offline, an optional update is remembered in the
//     OptionalUpdateDeferred flag and shown on the next online check.
//  4. Online, an available or previously deferred optional update is
//     shown and the deferred flag is cleared.
package updates

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alexjbarnes/fieldsync/internal/kv"
	"github.com/alexjbarnes/fieldsync/internal/probe"
	"github.com/alexjbarnes/fieldsync/internal/result"
)

// Prompt is what the host should show.
type Prompt int

// Prompts.
const (
	PromptNone Prompt = iota
	PromptMandatory
	PromptOptional
)

func (p Prompt) String() string {
	switch p {
	case PromptMandatory:
		return "mandatory"
	case PromptOptional:
		return "optional"
	default:
		return "none"
	}
}

// Availability is what the release feed reported.
type Availability struct {
	Mandatory bool
	Optional  bool
}

// Input is everything Decide looks at.
type Input struct {
	Available            Availability
	Usable               bool
	Quality              probe.Quality
	DismissedThisSession bool
	PreviouslyDeferred   bool
}

// Decision is the outcome of Decide.
type Decision struct {
	Prompt Prompt
	// Defer is true when an optional update should be remembered for the
	// next online check.
	Defer bool
	// ClearDeferred is true when a remembered optional update has now
	// been shown.
	ClearDeferred bool
}

// Decide applies the precedence rules. It is pure.
func Decide(in Input) Decision {
	if in.Available.Mandatory {
		if in.Usable && in.Quality == probe.QualityGood {
			return Decision{Prompt: PromptMandatory}
		}

		return Decision{}
	}

	optional := in.Available.Optional || in.PreviouslyDeferred
	if !optional || in.DismissedThisSession {
		return Decision{}
	}

	if !in.Usable {
		return Decision{Defer: !in.PreviouslyDeferred}
	}

	return Decision{Prompt: PromptOptional, ClearDeferred: in.PreviouslyDeferred}
}

// Flags is the plain store surface the Gate needs.
type Flags interface {
	Bool(flag kv.Flag) bool
	SetBool(flag kv.Flag, v bool) result.Result[struct{}]
	SetTime(flag kv.Flag, t time.Time) result.Result[struct{}]
}

// Checker measures connection quality.
type Checker interface {
	Check(ctx context.Context) probe.Quality
}

// Gate runs Decide against persisted flags and remembers dismissals for
// the life of the process.
type Gate struct {
	flags   Flags
	checker Checker
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	dismissed bool
}

// NewGate creates a Gate.
func NewGate(flags Flags, checker Checker, logger *slog.Logger) *Gate {
	return &Gate{flags: flags, checker: checker, logger: logger, now: time.Now}
}

// Evaluate decides what to show for avail given the current usable
// signal, and persists the deferred flag and check time.
func (g *Gate) Evaluate(ctx context.Context, avail Availability, usable bool) Prompt {
	g.mu.Lock()
	dismissed := g.dismissed
	g.mu.Unlock()

	in := Input{
		Available:            avail,
		Usable:               usable,
		Quality:              probe.QualityPoor,
		DismissedThisSession: dismissed,
		PreviouslyDeferred:   g.flags.Bool(kv.OptionalUpdateDeferred),
	}

	if usable && avail.Mandatory {
		in.Quality = g.checker.Check(ctx)
	}

	d := Decide(in)

	if d.Defer {
		g.flags.SetBool(kv.OptionalUpdateDeferred, true)
	}

	if d.ClearDeferred {
		g.flags.SetBool(kv.OptionalUpdateDeferred, false)
	}

	if usable {
		g.flags.SetTime(kv.LastUpdateCheck, g.now())
	}

	g.logger.Debug("update gate",
		slog.String("prompt", d.Prompt.String()),
		slog.Bool("usable", usable),
		slog.String("quality", in.Quality.String()),
	)

	return d.Prompt
}

// Dismiss suppresses optional prompts until the process exits.
func (g *Gate) Dismiss() {
	g.mu.Lock()
	g.dismissed = true
	g.mu.Unlock()
}
