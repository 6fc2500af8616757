package rollcore

import (
	"context"
	"sync"
	"time"
)

// SolveStatus is the outcome of one solve.
type SolveStatus string

const (
	SolveConverged   SolveStatus = "converged"
	SolveUnconverged SolveStatus = "unconverged"
	SolveFailed      SolveStatus = "failed"
)

// SolveRecord describes one finished Unit.Solve call.
type SolveRecord struct {
	ID         string
	ParentID   string
	Unit       string
	Type       string
	Iterations int
	Status     SolveStatus
	Err        error
	Start      time.Time
	End        time.Time
}

// Duration returns the wall time of the solve.
func (r *SolveRecord) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// SolveTree keeps the records of nested solves. When more than limit records
// are held, the oldest root and its subtree are evicted.
type SolveTree struct {
	mu       sync.RWMutex
	nodes    map[string]*SolveRecord
	byParent map[string][]string
	roots    []string
	limit    int
}

// NewSolveTree creates a tree holding at most limit records.
func NewSolveTree(limit int) *SolveTree {
	return &SolveTree{
		nodes:    make(map[string]*SolveRecord),
		byParent: make(map[string][]string),
		limit:    limit,
	}
}

func (t *SolveTree) add(rec *SolveRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nodes[rec.ID] = rec
	if rec.ParentID == "" {
		t.roots = append(t.roots, rec.ID)
	} else {
		t.byParent[rec.ParentID] = append(t.byParent[rec.ParentID], rec.ID)
	}

	if t.limit > 0 && len(t.nodes) > t.limit {
		t.evictOldest()
	}
}

func (t *SolveTree) evictOldest() {
	if len(t.roots) == 0 {
		return
	}
	oldest := t.roots[0]
	t.roots = t.roots[1:]
	t.removeSubtree(oldest)
}

func (t *SolveTree) removeSubtree(id string) {
	delete(t.nodes, id)
	children := t.byParent[id]
	delete(t.byParent, id)
	for _, c := range children {
		t.removeSubtree(c)
	}
}

// Get returns the record with id or nil.
func (t *SolveTree) Get(id string) *SolveRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[id]
}

// Children returns the nested solves of id in completion order.
func (t *SolveTree) Children(id string) []*SolveRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := t.byParent[id]
	out := make([]*SolveRecord, 0, len(ids))
	for _, c := range ids {
		if rec := t.nodes[c]; rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// Roots returns the outermost solves.
func (t *SolveTree) Roots() []*SolveRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*SolveRecord, 0, len(t.roots))
	for _, id := range t.roots {
		if rec := t.nodes[id]; rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// Filter returns all records matching predicate.
func (t *SolveTree) Filter(predicate func(*SolveRecord) bool) []*SolveRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*SolveRecord
	for _, rec := range t.nodes {
		if predicate(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Walk visits id and its descendants depth-first until visitor returns false.
func (t *SolveTree) Walk(id string, visitor func(rec *SolveRecord, depth int) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.walkUnlocked(id, 0, visitor)
}

func (t *SolveTree) walkUnlocked(id string, depth int, visitor func(*SolveRecord, int) bool) bool {
	rec := t.nodes[id]
	if rec == nil {
		return true
	}
	if !visitor(rec, depth) {
		return false
	}
	for _, c := range t.byParent[id] {
		if !t.walkUnlocked(c, depth+1, visitor) {
			return false
		}
	}
	return true
}

// Len returns the number of records held.
func (t *SolveTree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

type solveTreeKey struct{}

type runIDKey struct{}

// WithSolveTree makes solves started with the returned context record into t.
func WithSolveTree(ctx context.Context, t *SolveTree) context.Context {
	return context.WithValue(ctx, solveTreeKey{}, t)
}

// SolveTreeFrom returns the tree attached to ctx.
func SolveTreeFrom(ctx context.Context) (*SolveTree, bool) {
	t, ok := ctx.Value(solveTreeKey{}).(*SolveTree)
	return t, ok && t != nil
}

func withRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
