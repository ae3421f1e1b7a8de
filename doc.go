// Package runner implements a dependency-injection runtime for composable
// services. Units are declared as Tasks, Resources, Events, Hooks,
// Middleware, Tags and typed Errors, wired into a single dependency graph
// by a root Resource's register tree, then initialized, invoked and
// disposed in a disciplined order by Run.
//
// # Basic usage
//
//	root := runner.DefineResource(runner.ResourceDefinition[any, any]{
//		IdValue: "app",
//		Register: func(cfg any) []runner.Item {
//			return []runner.Item{double}
//		},
//		InitFn: func(any, runner.DependencySet) (any, error) { return nil, nil },
//	})
//
//	result, err := runner.Run(root, nil, nil)
//	out, err := runner.RunTask(result, double, 21)
//
// Resources are lifecycle-managed values initialized once per Store in
// topological order and disposed in reverse order. Tasks are stateless
// operations invoked through a per-call middleware chain. Events fan out
// to ordered Hooks. See SPEC_FULL.md for the full component breakdown.
package runner
