package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"taskrun/pkg/logging"
)

// Manager coordinates reconciliation.
//
// It manages:
//   - The change detector feeding TaskRun keys
//   - The TaskRun reconciler
//   - Work queue and worker pool
//   - Retry logic with exponential backoff
type Manager struct {
	mu sync.RWMutex

	config ManagerConfig

	changeDetector ChangeDetector
	reconciler     Reconciler
	metrics        *ReconcilerMetrics

	queue *delayedQueue

	// statusTracker tracks reconciliation status for each resource
	statusTracker map[string]*ReconcileStatus

	// changeChan receives change events from the detector
	changeChan chan ChangeEvent

	ctx        context.Context
	cancelFunc context.CancelFunc

	// wg tracks running workers
	wg sync.WaitGroup

	running bool
}

// NewManager creates a new reconciliation manager. A nil detector leaves
// TriggerReconcile as the only source of work; nil metrics are not exported.
func NewManager(config ManagerConfig, reconciler Reconciler, detector ChangeDetector, metrics *ReconcilerMetrics) *Manager {
	if config.WorkerCount == 0 {
		config.WorkerCount = 2
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 5
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 5 * time.Minute
	}
	if config.ReconcileTimeout == 0 {
		config.ReconcileTimeout = 30 * time.Second
	}
	if metrics == nil {
		metrics = NewReconcilerMetrics(nil)
	}

	return &Manager{
		config:         config,
		changeDetector: detector,
		reconciler:     reconciler,
		metrics:        metrics,
		queue:          NewDelayedQueue(),
		statusTracker:  make(map[string]*ReconcileStatus),
		changeChan:     make(chan ChangeEvent, 256),
	}
}

// Start begins the reconciliation system.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	if m.reconciler == nil {
		m.mu.Unlock()
		return errors.New("no reconciler configured")
	}

	m.ctx, m.cancelFunc = context.WithCancel(ctx)
	m.running = true
	m.mu.Unlock()

	// The detector blocks on a full channel, so the consumer must be
	// running before the initial list is delivered.
	m.wg.Add(1)
	go m.processChangeEvents()

	if m.changeDetector != nil {
		if err := m.changeDetector.Start(m.ctx, m.changeChan); err != nil {
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			m.cancelFunc()
			m.wg.Wait()
			return fmt.Errorf("failed to start change detector: %w", err)
		}
	}

	for i := 0; i < m.config.WorkerCount; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	logging.Info("ReconcileManager", "Started with %d workers", m.config.WorkerCount)
	return nil
}

// processChangeEvents converts change events to reconcile requests.
func (m *Manager) processChangeEvents() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case event, ok := <-m.changeChan:
			if !ok {
				return
			}
			m.handleChangeEvent(event)
		}
	}
}

func (m *Manager) handleChangeEvent(event ChangeEvent) {
	if event.Type != m.reconciler.GetResourceType() {
		logging.Debug("ReconcileManager", "Ignoring change event for unhandled type %s %s/%s",
			event.Type, event.Namespace, event.Name)
		return
	}

	if event.Origin != "" {
		logging.Debug("ReconcileManager", "Handling change event: %s %s/%s (via %s)",
			event.Operation, event.Namespace, event.Name, event.Origin)
	} else {
		logging.Debug("ReconcileManager", "Handling change event: %s %s/%s",
			event.Operation, event.Namespace, event.Name)
	}

	m.updateStatus(event.Type, event.Name, event.Namespace, StatePending, "")

	m.queue.Add(ReconcileRequest{
		Type:      event.Type,
		Name:      event.Name,
		Namespace: event.Namespace,
		Attempt:   1,
	})
	m.metrics.SetQueueDepth(m.queue.Len())
}

func (m *Manager) worker(id int) {
	defer m.wg.Done()

	logging.Debug("ReconcileManager", "Worker %d started", id)

	for {
		req, ok := m.queue.Get(m.ctx)
		if !ok {
			logging.Debug("ReconcileManager", "Worker %d shutting down", id)
			return
		}
		m.metrics.SetQueueDepth(m.queue.Len())

		m.processRequest(req)
		m.queue.Done(req)
	}
}

func (m *Manager) processRequest(req ReconcileRequest) {
	m.updateStatus(req.Type, req.Name, req.Namespace, StateReconciling, "")

	logging.Debug("ReconcileManager", "Reconciling %s/%s (attempt %d)",
		req.Namespace, req.Name, req.Attempt)

	// A hung API call must not pin a worker.
	ctx, cancel := context.WithTimeout(m.ctx, m.config.ReconcileTimeout)
	defer cancel()

	result := m.reconciler.Reconcile(ctx, req)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && result.Error == nil {
		result.Error = fmt.Errorf("reconciliation timed out after %v", m.config.ReconcileTimeout)
	}

	switch {
	case result.Error != nil:
		m.handleReconcileError(req, result)
	case result.Requeue || result.RequeueAfter > 0:
		m.handleRequeue(req, result)
		m.updateStatus(req.Type, req.Name, req.Namespace, StateSynced, "")
	default:
		logging.Debug("ReconcileManager", "Successfully reconciled %s/%s", req.Namespace, req.Name)
		m.updateStatus(req.Type, req.Name, req.Namespace, StateSynced, "")
	}
}

func (m *Manager) handleReconcileError(req ReconcileRequest, result ReconcileResult) {
	logging.Warn("ReconcileManager", "Reconciliation failed for %s/%s: %v",
		req.Namespace, req.Name, result.Error)

	sanitizedError := SanitizeErrorMessage(result.Error.Error())

	if req.Attempt >= m.config.MaxRetries {
		logging.Error("ReconcileManager", result.Error,
			"Max retries exceeded for %s/%s", req.Namespace, req.Name)
		m.updateStatus(req.Type, req.Name, req.Namespace, StateFailed, sanitizedError)
		return
	}

	m.updateStatus(req.Type, req.Name, req.Namespace, StateError, sanitizedError)

	backoff := m.calculateBackoff(req.Attempt)

	req.Attempt++
	req.LastError = result.Error
	m.queue.AddAfter(req, backoff)

	logging.Debug("ReconcileManager", "Requeuing %s/%s after %v (attempt %d)",
		req.Namespace, req.Name, backoff, req.Attempt)
}

// handleRequeue schedules the next poll. The attempt counter starts over
// because the previous reconcile made progress.
func (m *Manager) handleRequeue(req ReconcileRequest, result ReconcileResult) {
	delay := result.RequeueAfter
	if delay == 0 {
		delay = m.config.InitialBackoff
	}

	req.Attempt = 1
	req.LastError = nil
	m.queue.AddAfter(req, delay)
	logging.Debug("ReconcileManager", "Requeuing %s/%s after %v", req.Namespace, req.Name, delay)
}

// calculateBackoff computes initial * 2^(attempt-1), capped at MaxBackoff.
func (m *Manager) calculateBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		return m.config.MaxBackoff
	}
	backoff := m.config.InitialBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > m.config.MaxBackoff || backoff <= 0 {
		backoff = m.config.MaxBackoff
	}
	return backoff
}

func (m *Manager) updateStatus(resourceType ResourceType, name, namespace string, state ReconcileState, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := statusKey(resourceType, name, namespace)
	status, ok := m.statusTracker[key]
	if !ok {
		status = &ReconcileStatus{
			ResourceType: resourceType,
			Name:         name,
			Namespace:    namespace,
		}
		m.statusTracker[key] = status
	}

	status.State = state
	status.LastError = errMsg

	switch state {
	case StateSynced:
		now := time.Now()
		status.LastReconcileTime = &now
		status.RetryCount = 0
	case StateError:
		status.RetryCount++
	}
}

func statusKey(resourceType ResourceType, name, namespace string) string {
	return requestKey(ReconcileRequest{Type: resourceType, Name: name, Namespace: namespace})
}

// Stop gracefully shuts down the reconciliation manager.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	logging.Info("ReconcileManager", "Stopping reconciliation manager...")

	if m.cancelFunc != nil {
		m.cancelFunc()
	}

	if m.changeDetector != nil {
		if err := m.changeDetector.Stop(); err != nil {
			logging.Error("ReconcileManager", err, "Error stopping change detector")
		}
	}

	m.queue.Shutdown()
	m.wg.Wait()

	logging.Info("ReconcileManager", "Reconciliation manager stopped")
	return nil
}

// GetStatus returns the reconciliation status for a resource.
func (m *Manager) GetStatus(resourceType ResourceType, name, namespace string) (*ReconcileStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statusTracker[statusKey(resourceType, name, namespace)]
	if !ok {
		return nil, false
	}
	cp := *status
	return &cp, true
}

// GetAllStatuses returns all reconciliation statuses ordered by namespace
// and name.
func (m *Manager) GetAllStatuses() []ReconcileStatus {
	m.mu.RLock()
	statuses := make([]ReconcileStatus, 0, len(m.statusTracker))
	for _, status := range m.statusTracker {
		statuses = append(statuses, *status)
	}
	m.mu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].Namespace != statuses[j].Namespace {
			return statuses[i].Namespace < statuses[j].Namespace
		}
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// TriggerReconcile manually triggers reconciliation for a resource.
func (m *Manager) TriggerReconcile(resourceType ResourceType, name, namespace string) {
	m.handleChangeEvent(ChangeEvent{
		Type:      resourceType,
		Name:      name,
		Namespace: namespace,
		Operation: OperationUpdate,
		Timestamp: time.Now(),
		Source:    SourceManual,
	})
}

// IsRunning returns whether the manager is running.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// GetQueueLength returns the number of requests ready to be processed.
func (m *Manager) GetQueueLength() int {
	return m.queue.Len()
}
