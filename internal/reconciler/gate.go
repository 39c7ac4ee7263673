package reconciler

import (
	"context"
	"sync"

	trclient "taskrun/internal/client"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

// workspaceGate serialises the start of preparation per service workspace.
//
// The controller runs as a single leader, so an in-process lock is enough to
// make the busy check and the transition into Preparing atomic.
type workspaceGate struct {
	mu    sync.Mutex
	locks map[string]*gateLock
}

type gateLock struct {
	mu   sync.Mutex
	refs int
}

func newWorkspaceGate() *workspaceGate {
	return &workspaceGate{locks: make(map[string]*gateLock)}
}

// Lock blocks until the workspace of namespace/service is free for this
// caller and returns the matching unlock.
func (g *workspaceGate) Lock(namespace, service string) (unlock func()) {
	key := namespace + "/" + service

	g.mu.Lock()
	l, ok := g.locks[key]
	if !ok {
		l = &gateLock{}
		g.locks[key] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, key)
		}
		g.mu.Unlock()
	}
}

// size is the number of keys currently held or waited on.
func (g *workspaceGate) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}

// workspaceHolder returns the name of another TaskRun of the same service
// that is preparing or running, or "" when the workspace is free.
func workspaceHolder(ctx context.Context, c trclient.TaskRunClient, tr *v1alpha1.TaskRun) (string, error) {
	runs, err := c.ListTaskRuns(ctx, tr.Namespace, trclient.ListFilter{Service: tr.Spec.ServiceName})
	if err != nil {
		return "", err
	}
	for i := range runs {
		other := &runs[i]
		if other.Name == tr.Name {
			continue
		}
		switch other.CurrentPhase() {
		case v1alpha1.PhasePreparing, v1alpha1.PhaseRunning:
			return other.Name, nil
		}
	}
	return "", nil
}
