package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"taskrun/pkg/logging"
)

const (
	leaseDuration = 15 * time.Second
	renewDeadline = 10 * time.Second
	retryPeriod   = 2 * time.Second
)

// errLeadershipLost ends the process so a restarted replica can rejoin the election.
var errLeadershipLost = errors.New("leader election lost")

// leaderState tracks whether this replica currently runs the manager.
type leaderState struct {
	leading atomic.Bool
}

// ready reports readiness. A standby replica is ready immediately; the
// leader once its informer caches have synced.
func (s *leaderState) ready(synced func() bool) bool {
	if !s.leading.Load() {
		return true
	}
	return synced()
}

// runManager runs the reconcile manager until ctx is cancelled.
func runManager(ctx context.Context, services *Services) error {
	logging.Info("Bootstrap", "Starting reconcile manager")
	if err := services.Manager.Start(ctx); err != nil {
		logging.Error("Bootstrap", err, "Failed to start reconcile manager")
		return err
	}

	<-ctx.Done()

	logging.Info("Bootstrap", "Shutting down reconcile manager")
	return services.Manager.Stop()
}

// runStandalone runs the manager without leader election.
func runStandalone(ctx context.Context, services *Services, state *leaderState) error {
	state.leading.Store(true)
	defer state.leading.Store(false)
	return runManager(ctx, services)
}

// runLeaderElected competes for the lease and runs the manager while it is held.
func runLeaderElected(ctx context.Context, cfg *Config, restConfig *rest.Config, services *Services, state *leaderState) error {
	identity, err := leaderIdentity()
	if err != nil {
		return err
	}
	lock, err := newLeaseLock(restConfig, cfg.leaseNamespace(), identity)
	if err != nil {
		return err
	}

	var runErr error
	elector, err := leaderelection.NewLeaderElector(leaderElectionConfig(lock, identity, leaderelection.LeaderCallbacks{
		OnStartedLeading: func(leaderCtx context.Context) {
			logging.Info("LeaderElection", "Acquired lease %s/%s as %s", cfg.leaseNamespace(), LeaseName, identity)
			state.leading.Store(true)
			runErr = runManager(leaderCtx, services)
		},
		OnStoppedLeading: func() {
			state.leading.Store(false)
			logging.Info("LeaderElection", "Released lease %s", LeaseName)
		},
		OnNewLeader: func(current string) {
			if current != identity {
				logging.Info("LeaderElection", "Current leader is %s", current)
			}
		},
	}))
	if err != nil {
		return fmt.Errorf("failed to create leader elector: %w", err)
	}

	elector.Run(ctx)

	if runErr != nil {
		return runErr
	}
	if ctx.Err() == nil {
		return errLeadershipLost
	}
	return nil
}

func leaderElectionConfig(lock resourcelock.Interface, identity string, callbacks leaderelection.LeaderCallbacks) leaderelection.LeaderElectionConfig {
	return leaderelection.LeaderElectionConfig{
		Lock:            lock,
		Name:            identity,
		LeaseDuration:   leaseDuration,
		RenewDeadline:   renewDeadline,
		RetryPeriod:     retryPeriod,
		ReleaseOnCancel: true,
		Callbacks:       callbacks,
	}
}

// leaderIdentity is "<hostname>_<uuid>", unique per process.
func leaderIdentity() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	return hostname + "_" + uuid.NewString(), nil
}

func newLeaseLock(restConfig *rest.Config, namespace, identity string) (*resourcelock.LeaseLock, error) {
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset for leader election: %w", err)
	}
	return &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      LeaseName,
			Namespace: namespace,
		},
		Client:     clientset.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{Identity: identity},
	}, nil
}
