package extensions

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/m1gwings/treedrawer/tree"

	runner "github.com/module-dev/runner"
)

// GraphDebugLogger renders the store's dependency graph when a task or
// resource fails, for pasting into an incident channel (spec.md §7
// "Observability"). Grounded on the teacher's GraphDebugExtension
// (extensions/graph_debug.go), generalised from a live
// resolvedExecutors/failedExecutors Wrap tracker to a post-hoc renderer
// over runner.Store.ExportDependencyGraph, since the new engine has no
// per-executor Wrap hook to track resolution as it happens — the
// caller supplies the one id/error that failed instead.
type GraphDebugLogger struct {
	logger *slog.Logger
}

// NewGraphDebugLogger builds a logger writing through logHandler. Use
// NewSilentHandler in tests, NewHumanHandler for formatted terminal
// output, or any other slog.Handler (e.g. slog.NewJSONHandler) for
// structured logging.
func NewGraphDebugLogger(logHandler slog.Handler) *GraphDebugLogger {
	return &GraphDebugLogger{logger: slog.New(logHandler)}
}

// LogResolutionError logs store's dependency graph, marking failedId as
// the failure and every other initialized resource as resolved.
func (g *GraphDebugLogger) LogResolutionError(store *runner.Store, failedId runner.Id, err error) {
	graphOutput := g.formatDependencyGraph(store, failedId, err)

	g.logger.Error("Dependency Resolution Error",
		"id", failedId,
		"error", err.Error(),
		"dependency_graph", graphOutput,
	)
}

func (g *GraphDebugLogger) formatDependencyGraph(store *runner.Store, failedId runner.Id, failedErr error) string {
	var sb strings.Builder
	graph := store.ExportDependencyGraph()

	if len(graph) == 0 {
		sb.WriteString("\n(empty - no dependencies tracked)")
		return sb.String()
	}

	resolved := map[runner.Id]bool{}
	for id, entry := range store.AllResources() {
		if entry.IsInitialized {
			resolved[id] = true
		}
	}

	if horizontal := g.tryFormatHorizontalTree(graph, failedId, resolved); horizontal != "" {
		sb.WriteString("\n")
		sb.WriteString(horizontal)
		sb.WriteString("\n")
	}

	sb.WriteString("\nDetailed View:\n")

	ids := make([]runner.Id, 0, len(graph))
	for id := range graph {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		children := graph[id]
		status := ""
		if id == failedId {
			status = " ❌"
		} else if resolved[id] {
			status = " ✓"
		}

		if len(children) == 0 {
			sb.WriteString(fmt.Sprintf("  %s%s (no dependencies)\n", id, status))
			continue
		}
		sb.WriteString(fmt.Sprintf("  %s%s\n", id, status))

		sorted := append([]runner.Id{}, children...)
		sort.Strings(sorted)
		for i, child := range sorted {
			label := child
			switch {
			case child == failedId:
				label += " ❌ FAILED"
			case resolved[child]:
				label += " ✓"
			default:
				label += " (pending)"
			}
			if i == len(sorted)-1 {
				sb.WriteString(fmt.Sprintf("    └─> %s\n", label))
			} else {
				sb.WriteString(fmt.Sprintf("    ├─> %s\n", label))
			}
		}
	}

	if failedErr != nil {
		sb.WriteString("\nError Details:\n")
		sb.WriteString(fmt.Sprintf("  Id: %s\n", failedId))
		sb.WriteString(fmt.Sprintf("  Error: %v\n", failedErr))
	}

	return sb.String()
}

// tryFormatHorizontalTree renders graph as a horizontal tree rooted at
// whichever nodes have no incoming edges, falling back to "" (caller
// keeps the detailed view only) when no clear root exists.
func (g *GraphDebugLogger) tryFormatHorizontalTree(graph map[runner.Id][]runner.Id, failedId runner.Id, resolved map[runner.Id]bool) string {
	parents := map[runner.Id][]runner.Id{}
	allNodes := map[runner.Id]bool{}
	for parent, children := range graph {
		allNodes[parent] = true
		for _, child := range children {
			allNodes[child] = true
			parents[child] = append(parents[child], parent)
		}
	}

	var roots []runner.Id
	for node := range allNodes {
		if len(parents[node]) == 0 {
			roots = append(roots, node)
		}
	}
	if len(roots) == 0 {
		return ""
	}
	sort.Strings(roots)

	var root *tree.Tree
	if len(roots) == 1 {
		root = g.buildTree(roots[0], graph, failedId, resolved, map[runner.Id]bool{})
	} else {
		root = tree.NewTree(tree.NodeString("Dependencies"))
		for _, r := range roots {
			if child := g.buildTree(r, graph, failedId, resolved, map[runner.Id]bool{}); child != nil {
				g.addTreeAsChild(root, child)
			}
		}
	}
	if root == nil {
		return ""
	}
	return root.String()
}

func (g *GraphDebugLogger) buildTree(id runner.Id, graph map[runner.Id][]runner.Id, failedId runner.Id, resolved map[runner.Id]bool, visited map[runner.Id]bool) *tree.Tree {
	if visited[id] {
		return nil
	}
	visited[id] = true

	label := id
	if id == failedId {
		label += " ❌"
	} else if resolved[id] {
		label += " ✓"
	}
	node := tree.NewTree(tree.NodeString(label))

	children := append([]runner.Id{}, graph[id]...)
	sort.Strings(children)
	for _, child := range children {
		if childTree := g.buildTree(child, graph, failedId, resolved, visited); childTree != nil {
			g.addTreeAsChild(node, childTree)
		}
	}
	return node
}

func (g *GraphDebugLogger) addTreeAsChild(parent *tree.Tree, child *tree.Tree) {
	newChild := parent.AddChild(child.Val())
	for _, grandchild := range child.Children() {
		g.addTreeAsChild(newChild, grandchild)
	}
}
