package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	trclient "taskrun/internal/client"
	"taskrun/pkg/logging"
)

const bootstrapTimeout = 30 * time.Second

// Application bootstraps and runs the TaskRun controller.
//
// The Application follows a two-phase initialization pattern:
//  1. Bootstrap phase: validate flags, initialize logging, load configuration, wire services
//  2. Execution phase: serve probes, watch configuration, run the reconcile manager
//
// Example usage:
//
//	cfg := app.NewConfig(false, "/etc/taskrun/config.yaml")
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config     *Config
	restConfig *rest.Config
	services   *Services
	leader     leaderState
}

// NewApplication performs the bootstrap sequence against the cluster found
// through the usual kubeconfig rules (--kubeconfig, KUBECONFIG, in-cluster).
func NewApplication(cfg *Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}

	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.Init(logging.Options{Level: level, Format: cfg.LogFormat, Output: os.Stderr, Component: "taskrun-controller"})

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load Kubernetes configuration")
		return nil, fmt.Errorf("failed to load Kubernetes configuration: %w", err)
	}

	c, err := trclient.New(restConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	services, err := InitializeServices(ctx, cfg, restConfig, c)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:     cfg,
		restConfig: restConfig,
		services:   services,
	}, nil
}

// Run blocks until ctx is cancelled, SIGINT or SIGTERM arrives, or one of
// the components fails.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	health := newHealthServer(a.config.MetricsAddr, crmetrics.Registry, func() bool {
		return a.leader.ready(a.services.Detector.HasSynced)
	}, a.services.Manager)
	g.Go(func() error { return health.Run(ctx) })

	if a.services.Watcher != nil {
		g.Go(func() error { return a.services.Watcher.Run(ctx) })
	}

	g.Go(func() error {
		if a.config.LeaderElect {
			return runLeaderElected(ctx, a.config, a.restConfig, a.services, &a.leader)
		}
		return runStandalone(ctx, a.services, &a.leader)
	})

	err := g.Wait()
	logging.Info("Bootstrap", "Controller stopped")
	return err
}
