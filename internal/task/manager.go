// Package task provides a registry for long-running cancelable
// background tasks, such as batch image processing, with lifecycle
// events keyed by task id and type.
package task

import (
	"sync"
	"time"

	"github.com/HCPTangHY/Lim-Code/internal/abort"
	"github.com/HCPTangHY/Lim-Code/internal/event"
)

// Status is the terminal status of a task.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Info describes a registered task.
type Info struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Skipped   int            `json:"skipped"`
	Meta      map[string]any `json:"meta,omitempty"`
	Started   int64          `json:"started"`
}

type entry struct {
	info  Info
	token *abort.Token
}

// Manager tracks active background tasks. Each task is registered at
// invocation start and unregistered exactly once with a terminal status.
type Manager struct {
	mu    sync.Mutex
	tasks map[string]*entry
	bus   *event.Bus
}

// NewManager creates a task manager publishing lifecycle events to bus.
func NewManager(bus *event.Bus) *Manager {
	return &Manager{tasks: make(map[string]*entry), bus: bus}
}

// Register adds a task and emits a start event. Total declares the
// number of sub-tasks the task will process, zero if unknown.
func (m *Manager) Register(id, typ string, token *abort.Token, total int, meta map[string]any) {
	m.mu.Lock()
	m.tasks[id] = &entry{
		info: Info{
			ID:      id,
			Type:    typ,
			Total:   total,
			Meta:    meta,
			Started: time.Now().UnixMilli(),
		},
		token: token,
	}
	m.mu.Unlock()

	m.bus.Publish(event.Event{
		Type: event.TaskStarted,
		Data: event.TaskData{TaskID: id, Type: typ, Data: meta},
	})
}

// Progress records one sub-task outcome ("success", "failure" or
// "cancelled") and emits a progress event. Unknown ids are ignored;
// a late progress report after unregistration carries no state to update.
func (m *Manager) Progress(id string, outcome string, data map[string]any) {
	m.mu.Lock()
	e, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	switch outcome {
	case "success":
		e.info.Succeeded++
	case "failure":
		e.info.Failed++
	case "cancelled":
		e.info.Skipped++
	}
	typ := e.info.Type
	m.mu.Unlock()

	m.bus.Publish(event.Event{
		Type: event.TaskProgress,
		Data: event.TaskData{TaskID: id, Type: typ, Status: outcome, Data: data},
	})
}

// Unregister removes a task with its terminal status. A second call for
// the same id is a no-op, so the terminal event fires exactly once.
func (m *Manager) Unregister(id string, status Status, meta map[string]any) {
	m.mu.Lock()
	e, ok := m.tasks[id]
	if ok {
		delete(m.tasks, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	var errMsg string
	if status == StatusError {
		if msg, ok := meta["error"].(string); ok {
			errMsg = msg
		}
	}
	m.bus.Publish(event.Event{
		Type: event.TaskFinished,
		Data: event.TaskData{
			TaskID: id,
			Type:   e.info.Type,
			Status: string(status),
			Data:   meta,
			Error:  errMsg,
		},
	})
}

// Cancel signals the task's abort token. Returns whether the task was
// found and had a token. The task stays registered until its runner
// observes cancellation and unregisters with StatusCancelled.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	e, ok := m.tasks[id]
	m.mu.Unlock()

	if !ok || e.token == nil || e.token.Cancelled() {
		return false
	}
	e.token.Cancel()
	return true
}

// Get returns a snapshot of one task's info.
func (m *Manager) Get(id string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[id]
	if !ok {
		return Info{}, false
	}
	return e.info, true
}

// List returns a snapshot of all active tasks.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.tasks))
	for _, e := range m.tasks {
		out = append(out, e.info)
	}
	return out
}

// Subscribe delivers task events for one task type. Events for other
// types are filtered out. Returns an unsubscribe function.
func (m *Manager) Subscribe(typ string, fn func(event.TaskData)) func() {
	filter := func(e event.Event) {
		data, ok := e.Data.(event.TaskData)
		if !ok || data.Type != typ {
			return
		}
		fn(data)
	}
	unsubs := []func(){
		m.bus.Subscribe(event.TaskStarted, filter),
		m.bus.Subscribe(event.TaskProgress, filter),
		m.bus.Subscribe(event.TaskFinished, filter),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
