// Package requestmgr implements the single-consumer, coalescing work queue
// described in spec.md §4.4 (C4). Grounded line-by-line on
// original_source/language_server/src/request_manager.{h,cpp}: the
// coalescing rule, the worker loop, FinishServerRequests and EndWorker are
// a direct port of request_manager.cpp's add_request/handle_request_/
// finish_server_requests, with std::thread/std::condition_variable
// replaced by a goroutine over a mutex/sync.Cond-guarded slice kept in
// this package (not internal/queue.Blocking), since coalescing and
// draining mutate queued items in place.
package requestmgr

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/firi/hlasm-langserver/internal/logger"
)

// Executor is the subset of the LSP/DAP server the request manager drives.
// Implemented by *server.Server.
type Executor interface {
	MessageReceived(msg json.RawMessage)
}

// work is spec.md's "Parse work item": a json message, a validity flag
// flipped by a later coalescing event, and the server that owns it.
type work struct {
	message json.RawMessage
	valid   bool
	server  Executor
}

// Manager is the single-consumer queue described in spec.md §4.4. The zero
// value is not usable; call New.
type Manager struct {
	cancel *atomic.Bool // shared cooperative-cancellation flag, polled by the workspace manager

	mu      sync.Mutex
	items   []work
	cond    *sync.Cond
	ended   bool
	workerWG sync.WaitGroup

	currentFile   string
	currentServer Executor

	sync bool // Sync mode: add_request runs the handler inline, for tests
	log logger.Logger
}

// New starts the worker goroutine (unless sync is true, in which case
// AddRequest runs the handler inline on the caller's goroutine -- spec.md
// §4.4's "Sync (testing)" mode). cancel is the shared flag the caller's
// workspace manager must poll cooperatively.
func New(cancel *atomic.Bool, syncMode bool, log logger.Logger) *Manager {
	if log == nil {
		log = &logger.NullLogger{}
	}
	m := &Manager{cancel: cancel, sync: syncMode, log: log}
	m.cond = sync.NewCond(&m.mu)
	if !syncMode {
		m.workerWG.Add(1)
		go m.loop()
	}
	return m
}

// classifyWork extracts spec.md §4.4's file identity and parse-inducing
// classification from a decoded message, mirroring
// request_manager.cpp's get_request_file_ exactly: only "textDocument/*"
// methods carry a file identity (params.textDocument.uri), and only
// didOpen/didChange count as parse-inducing.
func classifyWork(message json.RawMessage) (fileKey string, parseInducing bool) {
	var probe struct {
		Method string `json:"method"`
		Params struct {
			TextDocument struct {
				URI string `json:"uri"`
			} `json:"textDocument"`
		} `json:"params"`
	}
	if err := json.Unmarshal(message, &probe); err != nil {
		return "", false
	}
	if !strings.HasPrefix(probe.Method, "textDocument/") {
		return "", false
	}
	parseInducing = probe.Method == "textDocument/didOpen" || probe.Method == "textDocument/didChange"
	return probe.Params.TextDocument.URI, parseInducing
}

// AddRequest enqueues message for srv. In Sync mode it instead invokes
// srv.MessageReceived inline, per spec.md §4.4.
func (m *Manager) AddRequest(srv Executor, message json.RawMessage) {
	if m.sync {
		srv.MessageReceived(message)
		return
	}

	m.mu.Lock()
	file, parseInducing := classifyWork(message)
	if file != "" && file == m.currentFile && parseInducing {
		if m.cancel != nil {
			m.cancel.Store(true)
		}
		for i := range m.items {
			if f, _ := classifyWork(m.items[i].message); f == file {
				m.items[i].valid = false
			}
		}
	}
	m.items = append(m.items, work{message: message, valid: true, server: srv})
	m.mu.Unlock()
	m.cond.Signal()
}

// loop is the worker goroutine: request_manager.cpp's handle_request_.
func (m *Manager) loop() {
	defer m.workerWG.Done()
	for {
		m.mu.Lock()
		for len(m.items) == 0 && !m.ended {
			m.cond.Wait()
		}
		if m.ended && len(m.items) == 0 {
			m.mu.Unlock()
			return
		}

		item := m.items[0]
		m.items = m.items[1:]

		file, _ := classifyWork(item.message)
		m.currentFile = file
		if m.cancel != nil {
			m.cancel.Store(!item.valid)
		}
		m.currentServer = item.server
		m.mu.Unlock()

		item.server.MessageReceived(item.message)

		m.mu.Lock()
		m.currentServer = nil
		m.mu.Unlock()
	}
}

// FinishServerRequests drains every queued item belonging to srv inline,
// after waiting for any currently-running handler owned by srv to
// complete. This flushes teardown events (e.g. didClose) synchronously,
// matching request_manager.cpp's finish_server_requests.
func (m *Manager) FinishServerRequests(srv Executor) {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel.Store(true)
	}
	m.mu.Unlock()

	for {
		m.mu.Lock()
		running := m.currentServer == srv
		m.mu.Unlock()
		if !running {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	m.mu.Lock()
	var toRun []work
	remaining := m.items[:0:0]
	for _, it := range m.items {
		if it.server == srv {
			toRun = append(toRun, it)
		} else {
			remaining = append(remaining, it)
		}
	}
	m.items = remaining
	m.mu.Unlock()

	for _, it := range toRun {
		it.server.MessageReceived(it.message)
	}
}

// EndWorker signals the worker to terminate and waits for it to return.
// A no-op in Sync mode.
func (m *Manager) EndWorker() {
	if m.sync {
		return
	}
	m.mu.Lock()
	m.ended = true
	m.mu.Unlock()
	m.cond.Broadcast()
	m.workerWG.Wait()
}

// QueueDepth reports the current backlog size, for C13 metrics.
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
