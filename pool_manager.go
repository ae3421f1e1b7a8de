package runner

import "sync"

// PoolMetrics tracks pool hit/miss counts for introspection. Grounded
// on pumped-go's PoolMetrics (pool_manager.go); narrowed to the two
// allocation sites TaskRunner's hot path actually has.
type PoolMetrics struct {
	DepsHits   uint64
	DepsMisses uint64
	NodeHits   uint64
	NodeMisses uint64
}

// PoolManager reduces allocations on TaskRunner's hot path by reusing
// DependencySet maps and ExecutionNode records across dispatches,
// instead of allocating one of each per call. Grounded on pumped-go's
// PoolManager (pool_manager.go), adapted from pooling
// *ResolveCtx/*ExecutionCtx to pooling TaskRunner.dispatch's two
// per-call allocations: the dependency map resolveDependencySetCtx
// builds and the ExecutionNode the dispatch records into the
// ExecutionTree.
//
// A pooled DependencySet is only safe to reuse once the dispatch that
// acquired it has returned; a RunFn that stashes its deps argument
// past its own return (e.g. inside a closure it returns) outlives that
// guarantee, same tradeoff pumped-go's ResolveCtx pooling makes.
type PoolManager struct {
	deps sync.Pool
	node sync.Pool

	mu      sync.Mutex
	metrics PoolMetrics
}

func newPoolManager() *PoolManager {
	pm := &PoolManager{}
	pm.deps = sync.Pool{New: func() any { return make(DependencySet, 4) }}
	pm.node = sync.Pool{New: func() any { return &ExecutionNode{} }}
	return pm
}

func (pm *PoolManager) acquireDependencySet() DependencySet {
	v := pm.deps.Get()
	pm.mu.Lock()
	if v != nil {
		pm.metrics.DepsHits++
	} else {
		pm.metrics.DepsMisses++
	}
	pm.mu.Unlock()
	deps, _ := v.(DependencySet)
	if deps == nil {
		deps = make(DependencySet, 4)
	}
	return deps
}

func (pm *PoolManager) releaseDependencySet(deps DependencySet) {
	if deps == nil {
		return
	}
	for k := range deps {
		delete(deps, k)
	}
	pm.deps.Put(deps)
}

func (pm *PoolManager) acquireExecutionNode() *ExecutionNode {
	v := pm.node.Get()
	pm.mu.Lock()
	if v != nil {
		pm.metrics.NodeHits++
	} else {
		pm.metrics.NodeMisses++
	}
	pm.mu.Unlock()
	node, _ := v.(*ExecutionNode)
	if node == nil {
		node = &ExecutionNode{}
	}
	*node = ExecutionNode{}
	return node
}

// releaseExecutionNode returns a node to the pool once the
// ExecutionTree has evicted it; called from ExecutionTree.removeSubtree
// rather than from TaskRunner, since the node must stay live for as
// long as the tree retains it for introspection.
func (pm *PoolManager) releaseExecutionNode(node *ExecutionNode) {
	if node == nil {
		return
	}
	pm.node.Put(node)
}

// Metrics returns a snapshot of pool hit/miss counters.
func (pm *PoolManager) Metrics() PoolMetrics {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.metrics
}
