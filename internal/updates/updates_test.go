package updates

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/fieldsync/internal/kv"
	"github.com/alexjbarnes/fieldsync/internal/probe"
	"github.com/alexjbarnes/fieldsync/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want Decision
	}{
		{
			name: "nothing available",
			in:   Input{Usable: true, Quality: probe.QualityGood},
			want: Decision{},
		},
		{
			name: "mandatory good connection",
			in:   Input{Available: Availability{Mandatory: true}, Usable: true, Quality: probe.QualityGood},
			want: Decision{Prompt: PromptMandatory},
		},
		{
			name: "mandatory poor connection defers",
			in:   Input{Available: Availability{Mandatory: true}, Usable: true, Quality: probe.QualityPoor},
			want: Decision{},
		},
		{
			name: "mandatory offline defers",
			in:   Input{Available: Availability{Mandatory: true}, Quality: probe.QualityGood},
			want: Decision{},
		},
		{
			name: "mandatory ignores dismissal",
			in: Input{
				Available: Availability{Mandatory: true, Optional: true}, Usable: true,
				Quality: probe.QualityGood, DismissedThisSession: true,
			},
			want: Decision{Prompt: PromptMandatory},
		},
		{
			name: "optional online",
			in:   Input{Available: Availability{Optional: true}, Usable: true},
			want: Decision{Prompt: PromptOptional},
		},
		{
			name: "optional dismissed",
			in:   Input{Available: Availability{Optional: true}, Usable: true, DismissedThisSession: true},
			want: Decision{},
		},
		{
			name: "optional offline defers",
			in:   Input{Available: Availability{Optional: true}},
			want: Decision{Defer: true},
		},
		{
			name: "optional offline already deferred",
			in:   Input{Available: Availability{Optional: true}, PreviouslyDeferred: true},
			want: Decision{},
		},
		{
			name: "deferred reminder online",
			in:   Input{Usable: true, PreviouslyDeferred: true},
			want: Decision{Prompt: PromptOptional, ClearDeferred: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.in))
		})
	}
}

type fixedChecker struct {
	q     probe.Quality
	calls int
}

func (c *fixedChecker) Check(context.Context) probe.Quality {
	c.calls++
	return c.q
}

func openFlags(t *testing.T) *kv.PlainStore {
	t.Helper()

	s, err := kv.OpenPlainStore(filepath.Join(t.TempDir(), "plain.db"),
		slog.New(slog.NewTextHandler(io.Discard, nil)), telemetry.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestGate_OfflineThenOnlineReminder(t *testing.T) {
	flags := openFlags(t)
	checker := &fixedChecker{q: probe.QualityGood}
	g := NewGate(flags, checker, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx := context.Background()

	assert.Equal(t, PromptNone, g.Evaluate(ctx, Availability{Optional: true}, false))
	assert.True(t, flags.Bool(kv.OptionalUpdateDeferred))
	_, checked := flags.Time(kv.LastUpdateCheck)
	assert.False(t, checked)

	assert.Equal(t, PromptOptional, g.Evaluate(ctx, Availability{}, true))
	assert.False(t, flags.Bool(kv.OptionalUpdateDeferred))
	_, checked = flags.Time(kv.LastUpdateCheck)
	assert.True(t, checked)

	assert.Zero(t, checker.calls, "optional updates do not probe")
}

func TestGate_DismissSuppressesOptional(t *testing.T) {
	g := NewGate(openFlags(t), &fixedChecker{q: probe.QualityGood}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx := context.Background()
	require.Equal(t, PromptOptional, g.Evaluate(ctx, Availability{Optional: true}, true))

	g.Dismiss()
	assert.Equal(t, PromptNone, g.Evaluate(ctx, Availability{Optional: true}, true))
}

func TestGate_MandatoryProbes(t *testing.T) {
	flags := openFlags(t)
	checker := &fixedChecker{q: probe.QualityPoor}
	g := NewGate(flags, checker, slog.New(slog.NewTextHandler(io.Discard, nil)))
	g.now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	assert.Equal(t, PromptNone, g.Evaluate(ctx, Availability{Mandatory: true}, true))
	assert.Equal(t, 1, checker.calls)

	checker.q = probe.QualityGood
	assert.Equal(t, PromptMandatory, g.Evaluate(ctx, Availability{Mandatory: true}, true))

	at, ok := flags.Time(kv.LastUpdateCheck)
	require.True(t, ok)
	assert.True(t, at.Equal(g.now()))

	assert.Equal(t, PromptNone, g.Evaluate(ctx, Availability{Mandatory: true}, false))
	assert.Equal(t, 2, checker.calls, "offline skips the probe")
}
