// Package hierarchy resolves folder listings for nested document
// browsing and keeps the breadcrumb trail.
package hierarchy

import (
	"context"
	"fmt"
	"sync"

	"github.com/alexjbarnes/fieldsync/internal/models"
	"github.com/alexjbarnes/fieldsync/internal/offline"
	mapset "github.com/deckarep/golang-set/v2"
)

// Merge unions prior and fresh, deduplicated by node id. The first
// occurrence wins, so a node already in prior keeps its prior copy; fresh
// nodes not seen before are appended in their own order.
func Merge(prior, fresh []models.DocumentNode) []models.DocumentNode {
	seen := mapset.NewThreadUnsafeSetWithSize[string](len(prior) + len(fresh))
	out := make([]models.DocumentNode, 0, len(prior)+len(fresh))

	for _, list := range [][]models.DocumentNode{prior, fresh} {
		for _, n := range list {
			if seen.Add(n.NodeID) {
				out = append(out, n)
			}
		}
	}

	return out
}

// Lister reads a folder's children. offline.Orchestrator implements it.
type Lister interface {
	Folder(ctx context.Context, folderID string) (offline.Page[models.DocumentNode], error)
}

// Frame is one breadcrumb: the folder entered and the children shown for
// it.
type Frame struct {
	Name     string                `yaml:"name"`
	ID       string                `yaml:"id"`
	Snapshot []models.DocumentNode `yaml:"children"`
}

// Resolver lists folders and tracks the navigation trail.
type Resolver struct {
	lister Lister
	trail  *Trail
}

// NewResolver creates a Resolver with an empty trail.
func NewResolver(lister Lister) *Resolver {
	return &Resolver{lister: lister, trail: &Trail{}}
}

// Resolve returns the children of folderID. A remote answer is used as
// is. A cache answer is merged under prior, the children the caller last
// rendered for this folder, so a degraded fetch never drops a node that
// was on screen.
func (r *Resolver) Resolve(ctx context.Context, folderID string, prior []models.DocumentNode) ([]models.DocumentNode, offline.Source, error) {
	page, err := r.lister.Folder(ctx, folderID)
	if err != nil {
		return nil, "", fmt.Errorf("resolving folder %s: %w", folderID, err)
	}

	if page.Source == offline.SourceRemote {
		return page.Items, page.Source, nil
	}

	return Merge(prior, page.Items), page.Source, nil
}

// Enter resolves a folder and pushes it onto the trail. The prior
// snapshot is whatever the trail last recorded for the same folder id.
func (r *Resolver) Enter(ctx context.Context, folderID, name string) (Frame, error) {
	children, _, err := r.Resolve(ctx, folderID, r.trail.snapshotFor(folderID))
	if err != nil {
		return Frame{}, err
	}

	f := Frame{Name: name, ID: folderID, Snapshot: children}
	r.trail.Push(f)

	return f, nil
}

// Back pops the current folder and returns the parent frame, which is
// rendered from its snapshot without a fetch. ok is false at the root.
func (r *Resolver) Back() (Frame, bool) {
	r.trail.Pop()
	return r.trail.Current()
}

// Trail returns the breadcrumb trail.
func (r *Resolver) Trail() *Trail {
	return r.trail
}

// Trail is the breadcrumb stack of entered folders.
type Trail struct {
	mu     sync.Mutex
	frames []Frame
	// last keeps the most recent snapshot of folders popped off the
	// trail, so re-entering one merges against what was shown.
	last map[string][]models.DocumentNode
}

// Push appends a frame.
func (t *Trail) Push(f Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.frames = append(t.frames, f)
}

// Pop removes and returns the current frame.
func (t *Trail) Pop() (Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.frames) == 0 {
		return Frame{}, false
	}

	f := t.frames[len(t.frames)-1]
	t.frames = t.frames[:len(t.frames)-1]

	if t.last == nil {
		t.last = make(map[string][]models.DocumentNode)
	}

	t.last[f.ID] = f.Snapshot

	return f, true
}

// Current returns the top frame.
func (t *Trail) Current() (Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.frames) == 0 {
		return Frame{}, false
	}

	return t.frames[len(t.frames)-1], true
}

// Depth returns the number of frames.
func (t *Trail) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.frames)
}

// Names returns the frame names from root to current.
func (t *Trail) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.frames))
	for _, f := range t.frames {
		out = append(out, f.Name)
	}

	return out
}

func (t *Trail) snapshotFor(id string) []models.DocumentNode {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.frames) - 1; i >= 0; i-- {
		if t.frames[i].ID == id {
			return t.frames[i].Snapshot
		}
	}

	return t.last[id]
}
