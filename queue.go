package treerender

import "sync"

// QueueManager is the external scheduler driving tree renders. The
// engine never dispatches tasks on its own beyond what
// ExecuteAvailableTasks is asked for; the manager decides how many slots
// each execution gets per scheduling tick and balances concurrent
// renders.
//
// The queue package provides the default implementation.
type QueueManager interface {
	// NotifyTaskInRenderFinished signals that one task of exec completed
	// and a slot freed up. inPoolGoroutine reports whether the call is
	// made from a worker-pool goroutine, letting the manager avoid
	// re-entrant dispatch from its own workers.
	NotifyTaskInRenderFinished(exec *ExecutionData, inPoolGoroutine bool)
}

// Provider identifies the party a render is performed for: a viewer, an
// exporter, a background pre-fetcher. The engine treats it as opaque
// identity except for one convenience: a provider that also implements
// QueueManager receives task notifications for its own renders directly.
type Provider interface {
	// ProviderName returns a stable name used in logs and stats.
	ProviderName() string
}

var (
	queueMu sync.RWMutex
	queue   QueueManager
)

// RegisterQueueManager registers the process-wide queue manager notified
// as tasks complete. Only one manager can be registered; a subsequent
// call replaces the previous one. Registering nil detaches the manager.
func RegisterQueueManager(m QueueManager) {
	queueMu.Lock()
	queue = m
	queueMu.Unlock()
}

// QueueManagerInstance returns the registered queue manager, or nil.
func QueueManagerInstance() QueueManager {
	queueMu.RLock()
	m := queue
	queueMu.RUnlock()
	return m
}
