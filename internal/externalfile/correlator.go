// Package externalfile implements the external-file request broker
// described in spec.md §4.7 (C7): read_file and list_directory as
// request/response pairs over the outbound channel, correlated by a
// monotonic numeric id, with worker-scoped cancellation on teardown.
//
// Grounded 1:1 on original_source's
// language_server/src/external_file_reader.{h,cpp}: the
// m_pending_requests/m_registrations maps become Correlator's pending/
// registrations maps, and thread_registration's destructor-driven cleanup
// becomes WorkerHandle.Close, since Go has no RAII destructor to repurpose.
//
// Correlator is used only by this package's Broker. internal/virtualfile's
// external-configuration broker does not use it: it correlates replies
// through internal/server.Server's outbound-request map and shares only
// this package's Error shape.
package externalfile

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// WorkerID names a registered waiter. It is an opaque handle, not a
// protocol value -- repurposing google/uuid (rather than a process thread
// id, which Go goroutines don't expose) the way the teacher's pack uses
// it for other opaque identifiers.
type WorkerID uuid.UUID

func (w WorkerID) String() string { return uuid.UUID(w).String() }

type pendingRecord struct {
	worker  WorkerID
	resolve func(isErr bool, payload json.RawMessage)
}

// Correlator tracks outstanding numeric-id requests and the registered
// workers allowed to issue them. It is safe for concurrent use; resolve
// callbacks and wakeup functions are always invoked outside the lock.
type Correlator struct {
	mu            sync.Mutex
	nextID        uint64
	pending       map[uint64]pendingRecord
	registrations map[WorkerID]func()
}

// NewCorrelator returns an empty correlator with its id counter starting
// at 1, matching original_source's m_next_id initializer.
func NewCorrelator() *Correlator {
	return &Correlator{
		nextID:        1,
		pending:       make(map[uint64]pendingRecord),
		registrations: make(map[WorkerID]func()),
	}
}

// WorkerHandle is returned by RegisterWorker. Close erases every pending
// record owned by this worker and removes its wakeup registration --
// the Go stand-in for thread_registration's destructor.
type WorkerHandle struct {
	id uuid.UUID
	c  *Correlator
}

// ID returns the opaque worker identity to pass to AddPending.
func (h *WorkerHandle) ID() WorkerID { return WorkerID(h.id) }

// Close cancels every request this worker has outstanding and
// unregisters its wakeup. Idempotent.
func (h *WorkerHandle) Close() {
	wid := WorkerID(h.id)
	h.c.mu.Lock()
	for id, rec := range h.c.pending {
		if rec.worker == wid {
			delete(h.c.pending, id)
		}
	}
	delete(h.c.registrations, wid)
	h.c.mu.Unlock()
}

// RegisterWorker records wakeup under a fresh WorkerID and returns a
// handle the caller must Close when it stops issuing requests
// (spec.md §4.7: "this guarantees that a disappearing worker cannot be
// blamed for a later orphan response").
func (c *Correlator) RegisterWorker(wakeup func()) *WorkerHandle {
	id := uuid.New()
	c.mu.Lock()
	c.registrations[WorkerID(id)] = wakeup
	c.mu.Unlock()
	return &WorkerHandle{id: id, c: c}
}

// PendingCount reports the number of currently outstanding requests, for
// C13's broker pending-count gauge.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// NextID allocates a fresh monotonic request id.
func (c *Correlator) NextID() uint64 {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.mu.Unlock()
	return id
}

// AddPending records resolve under id, owned by worker, provided worker
// is still registered. It reports false (and records nothing) if worker
// was never registered or has already been closed, mirroring
// enqueue_message's registration check.
func (c *Correlator) AddPending(id uint64, worker WorkerID, resolve func(isErr bool, payload json.RawMessage)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.registrations[worker]; !ok {
		return false
	}
	c.pending[id] = pendingRecord{worker: worker, resolve: resolve}
	return true
}

// Resolve extracts the pending record for id (if any), invokes its
// resolver, then wakes the owning worker -- both calls made outside the
// lock, matching original_source's write()+wakeup_thread() split. A
// Resolve for an id with no pending record (already answered, or its
// worker was torn down) is a silent no-op.
func (c *Correlator) Resolve(id uint64, isErr bool, payload json.RawMessage) {
	c.mu.Lock()
	rec, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	var wakeup func()
	if ok {
		wakeup = c.registrations[rec.worker]
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	if rec.resolve != nil {
		rec.resolve(isErr, payload)
	}
	if wakeup != nil {
		wakeup()
	}
}
