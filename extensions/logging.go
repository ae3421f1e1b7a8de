package extensions

import (
	"time"

	"go.uber.org/zap"

	runner "github.com/module-dev/runner"
)

// NewLoggingTaskMiddleware builds a TaskMiddleware that logs every
// invocation's duration and outcome through logger (spec.md §4.5
// "middleware"). Grounded on the teacher's timing-and-log Wrap
// (extensions/logging.go), generalised from fmt.Printf to zap and from
// an extension-wide Wrap hook to the new engine's
// next(overrideInput)-chained TaskMiddleware shape.
func NewLoggingTaskMiddleware(id runner.Id, logger *zap.Logger) *runner.TaskMiddlewareDefinition {
	return runner.DefineTaskMiddleware(runner.TaskMiddlewareDefinition{
		IdValue: id,
		RunFn: func(task runner.TaskMiddlewareTarget, next runner.TaskMiddlewareNext, deps runner.DependencySet) (any, error) {
			start := time.Now()
			logger.Debug("task starting", zap.String("task", task.Id))

			result, err := next(nil)

			fields := []zap.Field{
				zap.String("task", task.Id),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Error("task failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("task completed", fields...)
			}
			return result, err
		},
	})
}

// NewLoggingResourceMiddleware mirrors NewLoggingTaskMiddleware for
// resource initialization (spec.md §4.4 "resource middleware").
func NewLoggingResourceMiddleware(id runner.Id, logger *zap.Logger) *runner.ResourceMiddlewareDefinition {
	return runner.DefineResourceMiddleware(runner.ResourceMiddlewareDefinition{
		IdValue: id,
		RunFn: func(resourceId runner.Id, next runner.ResourceMiddlewareNext, deps runner.DependencySet) (any, error) {
			start := time.Now()
			logger.Debug("resource initializing", zap.String("resource", resourceId))

			result, err := next()

			fields := []zap.Field{
				zap.String("resource", resourceId),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Error("resource init failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("resource initialized", fields...)
			}
			return result, err
		},
	})
}

// HookErrorLogger adapts RunOptions.OnHookError to zap, for wiring into
// Run so swallowed hook errors (spec.md §4.6 "hook errors are logged
// and do not fail the emitting operation") still surface somewhere.
func HookErrorLogger(logger *zap.Logger) func(hookId runner.Id, err error) {
	return func(hookId runner.Id, err error) {
		logger.Error("hook failed", zap.String("hook", hookId), zap.Error(err))
	}
}
