package app

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/rest"

	trclient "taskrun/internal/client"
	"taskrun/internal/config"
	"taskrun/internal/events"
	"taskrun/internal/reconciler"
	"taskrun/pkg/logging"
)

// Services holds all initialized components used by the application.
//
// Field descriptions:
//   - Provider: the live controller configuration, swapped on reload
//   - Watcher: reloads ConfigPath; nil when the configuration comes from a ConfigMap
//   - Detector: informers feeding the manager
//   - Manager: queue and workers driving the reconciler
type Services struct {
	Client     trclient.TaskRunClient
	Scheme     *runtime.Scheme
	Provider   *config.AtomicProvider
	Watcher    *config.Watcher
	Reconciler *reconciler.TaskRunReconciler
	Detector   *reconciler.KubernetesDetector
	Manager    *reconciler.Manager
}

// InitializeServices resolves the controller configuration and wires the
// reconcile pipeline. Nothing is started.
//
// Configuration sources, first match wins:
//  1. cfg.ConfigMap, read once through c
//  2. cfg.ConfigPath, watched for changes
//  3. built-in defaults
func InitializeServices(ctx context.Context, cfg *Config, restConfig *rest.Config, c trclient.TaskRunClient) (*Services, error) {
	controllerCfg, err := loadControllerConfig(ctx, cfg, c)
	if err != nil {
		return nil, err
	}
	cfg.ControllerConfig = controllerCfg

	provider := config.NewAtomicProvider(controllerCfg)

	var watcher *config.Watcher
	if cfg.ConfigMap == "" && cfg.ConfigPath != "" {
		watcher = config.NewWatcher(cfg.ConfigPath, provider, 0)
		watcher.OnReload(func(next *config.ControllerConfig) {
			if next.Reconciler.Workers != controllerCfg.Reconciler.Workers {
				logging.Warn("Config", "reconciler.workers changed to %d; takes effect after restart", next.Reconciler.Workers)
			}
		})
	}

	scheme := c.Scheme()
	metrics := reconciler.GetReconcilerMetrics()

	r := reconciler.NewTaskRunReconciler(c, scheme, provider, events.NewEventGenerator(c), metrics)
	detector := reconciler.NewKubernetesDetector(restConfig, cfg.Namespace, scheme)
	manager := reconciler.NewManager(managerConfig(controllerCfg), r, detector, metrics)

	logging.Info("Bootstrap", "Initialized TaskRun reconciler for %s", namespaceDisplay(cfg.Namespace))

	return &Services{
		Client:     c,
		Scheme:     scheme,
		Provider:   provider,
		Watcher:    watcher,
		Reconciler: r,
		Detector:   detector,
		Manager:    manager,
	}, nil
}

func loadControllerConfig(ctx context.Context, cfg *Config, c trclient.TaskRunClient) (*config.ControllerConfig, error) {
	if cfg.ConfigMap != "" {
		namespace, name, err := parseConfigMapRef(cfg.ConfigMap)
		if err != nil {
			return nil, err
		}
		controllerCfg, err := config.LoadFromConfigMap(ctx, c, namespace, name)
		if err != nil {
			return nil, fmt.Errorf("failed to load controller configuration: %w", err)
		}
		return controllerCfg, nil
	}

	controllerCfg, err := config.LoadFile(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load controller configuration: %w", err)
	}
	return controllerCfg, nil
}

func managerConfig(cfg *config.ControllerConfig) reconciler.ManagerConfig {
	return reconciler.ManagerConfig{
		WorkerCount:      cfg.Reconciler.Workers,
		MaxRetries:       cfg.Reconciler.MaxRetries,
		InitialBackoff:   cfg.Reconciler.InitialBackoff,
		MaxBackoff:       cfg.Reconciler.MaxBackoff,
		ReconcileTimeout: cfg.Reconciler.ReconcileTimeout,
	}
}

func namespaceDisplay(namespace string) string {
	if namespace == "" {
		return "all namespaces"
	}
	return "namespace " + namespace
}
