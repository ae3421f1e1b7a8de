// Command runnerd boots a runner.Run graph and exposes it over HTTP,
// configured via viper the way evalgo-org-eve's cli package configures
// its server (flags/env/file precedence), adapted from cobra-bound
// flags to a config-file-or-environment-only setup since this runtime
// has no other CLI surface to hang flags off of.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	runner "github.com/module-dev/runner"
	"github.com/module-dev/runner/exposure"
	"github.com/module-dev/runner/extensions"
	"github.com/module-dev/runner/internal/obslog"
)

func loadConfig() {
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("token_header", "x-runner-token")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "console")

	viper.SetConfigName("runnerd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/runnerd")

	viper.SetEnvPrefix("RUNNERD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Fprintf(os.Stderr, "runnerd: config file error: %v\n", err)
		}
	}
}

// demoRoot is the bootstrap's own root resource: a single ping task,
// exposed as the smallest graph that exercises the full Run ->
// exposure.Server path. Real deployments replace this with their own
// *runner.ResourceDefinition built from application code.
func demoRoot() *runner.ResourceDefinition[any, any] {
	ping := runner.DefineTask(runner.TaskDefinition[any, any]{
		IdValue: "runnerd.ping",
		RunFn: func(input any, deps runner.DependencySet) (any, error) {
			return map[string]any{"pong": true, "at": time.Now().UTC().Format(time.RFC3339)}, nil
		},
	})

	return runner.DefineResource(runner.ResourceDefinition[any, any]{
		IdValue: "runnerd.root",
		TagList: []runner.TagAttachment{
			runner.TunnelTag.With(runner.TunnelTagConfig{
				Mode:  runner.TunnelModeServer,
				Tasks: []runner.Id{"runnerd.ping"},
			}),
		},
		Register: func(any) []runner.Item { return []runner.Item{ping} },
		InitFn:   func(cfg any, deps runner.DependencySet) (any, error) { return nil, nil },
	})
}

func main() {
	loadConfig()

	logger, err := obslog.New(obslog.Config{Level: viper.GetString("log_level"), Format: viper.GetString("log_format")})
	if err != nil {
		fmt.Fprintf(os.Stderr, "runnerd: logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	rr, err := runner.Run(demoRoot(), nil, &runner.RunOptions{
		OnHookError: extensions.HookErrorLogger(logger),
	})
	if err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}

	token := viper.GetString("token")
	srv, err := exposure.New(rr, exposure.Config{
		TokenHeader:                  viper.GetString("token_header"),
		Token:                        token,
		DangerouslyAllowOpenExposure: token == "" && viper.GetBool("allow_open_exposure"),
	})
	if err != nil {
		logger.Fatal("exposure setup failed", zap.Error(err))
	}

	httpServer := &http.Server{Addr: viper.GetString("listen_addr"), Handler: srv}

	go func() {
		logger.Info("runnerd listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
	if err := rr.Dispose(); err != nil {
		logger.Error("dispose error", zap.Error(err))
	}
}
