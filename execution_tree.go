package runner

import (
	"sync"
	"time"
)

// ExecutionStatus records how a recorded dispatch ended.
type ExecutionStatus int

const (
	ExecutionStatusRunning ExecutionStatus = iota
	ExecutionStatusSuccess
	ExecutionStatusFailed
	ExecutionStatusCancelled
)

// ExecutionNode is one recorded task dispatch. ParentID links a task
// call to whichever dispatch invoked it as a TaskCaller dependency, so
// the tree reflects the call graph RunTaskById actually walked, not
// just a flat log.
type ExecutionNode struct {
	ID        string
	ParentID  string
	TaskId    Id
	Status    ExecutionStatus
	StartTime time.Time
	EndTime   time.Time
	Err       error
}

// ExecutionTree is a bounded, oldest-root-evicted record of recent
// task dispatches for runtime introspection, grounded on pumped-go's
// ExecutionTree/ExecutionNode (flow.go), narrowed from arbitrary
// flow-tag data to the fields TaskRunner.dispatch has on hand. Its
// nodes are drawn from/returned to a PoolManager exactly as
// pumped-go's addNode/evictOldest pairing does with ResolveCtx.
type ExecutionTree struct {
	mu       sync.RWMutex
	nodes    map[string]*ExecutionNode
	byParent map[string][]string
	roots    []string
	limit    int
	pool     *PoolManager
}

func newExecutionTree(limit int, pool *PoolManager) *ExecutionTree {
	if limit <= 0 {
		limit = 1024
	}
	return &ExecutionTree{
		nodes:    map[string]*ExecutionNode{},
		byParent: map[string][]string{},
		limit:    limit,
		pool:     pool,
	}
}

func (t *ExecutionTree) addNode(node *ExecutionNode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nodes[node.ID] = node
	if node.ParentID == "" {
		t.roots = append(t.roots, node.ID)
	} else {
		t.byParent[node.ParentID] = append(t.byParent[node.ParentID], node.ID)
	}

	if len(t.nodes) > t.limit {
		t.evictOldest()
	}
}

func (t *ExecutionTree) evictOldest() {
	if len(t.roots) == 0 {
		return
	}
	oldestRoot := t.roots[0]
	t.roots = t.roots[1:]
	t.removeSubtree(oldestRoot)
}

func (t *ExecutionTree) removeSubtree(nodeID string) {
	if node, ok := t.nodes[nodeID]; ok {
		if t.pool != nil {
			t.pool.releaseExecutionNode(node)
		}
		delete(t.nodes, nodeID)
	}
	children := t.byParent[nodeID]
	delete(t.byParent, nodeID)
	for _, childID := range children {
		t.removeSubtree(childID)
	}
}

// GetNode looks up a single recorded dispatch by id.
func (t *ExecutionTree) GetNode(id string) *ExecutionNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[id]
}

// GetChildren returns the dispatches a given dispatch called as
// TaskCaller dependencies.
func (t *ExecutionTree) GetChildren(id string) []*ExecutionNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.byParent[id]
	out := make([]*ExecutionNode, 0, len(ids))
	for _, cid := range ids {
		if n := t.nodes[cid]; n != nil {
			out = append(out, n)
		}
	}
	return out
}

// GetRoots returns the still-retained top-level dispatches, oldest
// first.
func (t *ExecutionTree) GetRoots() []*ExecutionNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*ExecutionNode, 0, len(t.roots))
	for _, rid := range t.roots {
		if n := t.nodes[rid]; n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Filter returns every retained node matching predicate, in no
// particular order.
func (t *ExecutionTree) Filter(predicate func(*ExecutionNode) bool) []*ExecutionNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*ExecutionNode
	for _, n := range t.nodes {
		if predicate(n) {
			out = append(out, n)
		}
	}
	return out
}
