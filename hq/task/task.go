// Package task provides the process-wide task registry.
//
// A task is a named Go function that the scheduler can execute. Tasks
// register once at program start; afterwards the registry is read-only
// and lookups are safe from any goroutine.
//
// Design: explicit registry value
//   - the engine and the API receive a *Registry, never a package global
//   - registration is an ordinary call, not an import side effect
//   - payload decoding stays inside the task function
package task

import (
	"context"
	"sort"
	"sync"

	"github.com/maximiliancw/homeworq/errors"
)

// Func is the signature every task implements. Params carry the job's
// JSON parameters decoded into a map. The returned value must be
// JSON-serializable; it is stored on the execution log.
//
// Context cancellation: task functions MUST honor ctx.Done() so that
// per-attempt timeouts and engine shutdown can interrupt them.
type Func func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Task describes a registered task. The function itself is unexported
// so Task serializes cleanly in API responses.
type Task struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	fn Func
}

// Run executes the task function with the given parameters.
func (t Task) Run(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if t.fn == nil {
		return nil, errors.Wrap(errors.ErrTaskNotFound, t.Name)
	}
	return t.fn(ctx, params)
}

// Registry manages tasks by name.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]Task),
	}
}

// Register adds a task under name. Title falls back to the name when
// empty. Registration fails on an empty name, a nil function, or a
// duplicate name.
func (r *Registry) Register(name, title, description string, fn Func) error {
	if name == "" {
		return errors.New("task name must not be empty")
	}
	if fn == nil {
		return errors.Newf("task %s has no function", name)
	}
	if title == "" {
		title = name
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[name]; exists {
		return errors.Newf("task already registered: %s", name)
	}
	r.tasks[name] = Task{
		Name:        name,
		Title:       title,
		Description: description,
		fn:          fn,
	}
	return nil
}

// MustRegister is Register for startup wiring.
// Panics on registration failure.
func (r *Registry) MustRegister(name, title, description string, fn Func) {
	if err := r.Register(name, title, description, fn); err != nil {
		panic(err)
	}
}

// Get retrieves the task for a name.
// Returns ErrTaskNotFound when the name is absent.
func (r *Registry) Get(name string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tasks[name]
	if !exists {
		return Task{}, errors.Wrap(errors.ErrTaskNotFound, name)
	}
	return t, nil
}

// Has checks if a task is registered for a name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tasks[name]
	return exists
}

// List returns all registered tasks sorted by name.
func (r *Registry) List() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks
}

// Names returns all registered task names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute looks up a task by name and runs it.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}) (interface{}, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return t.Run(ctx, params)
}
