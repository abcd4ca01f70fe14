package lambda

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	awslambda "github.com/aws/aws-lambda-go/lambda"
)

// ErrFunctionNotFound is returned for names that were never registered
var ErrFunctionNotFound = errors.New("function not found")

// Factory builds the handler of one function. The returned value must be a
// handler function accepted by lambda.NewHandler or a lambda.Handler.
type Factory func(ctx context.Context) (interface{}, error)

type entry struct {
	factory     Factory
	initOnce    sync.Once
	handler     awslambda.Handler
	initErr     error
	initialized bool
	lastUsed    time.Time
	invokeMu    sync.Mutex
}

// Registry maps function names to lazily built handlers. A factory runs at
// most once; a failed build is remembered and returned on every call.
// Invocations of one function are serialized, as they are inside a single
// Lambda execution environment.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds or replaces the factory for name
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &entry{factory: factory}
}

// Names returns the registered function names in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Initialized reports whether the handler for name has been built
func (r *Registry) Initialized(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.initialized
}

// LastUsed returns when name was last invoked, or the zero time
func (r *Registry) LastUsed(name string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.lastUsed
	}
	return time.Time{}
}

// Handler returns the handler for name, building it on first use
func (r *Registry) Handler(ctx context.Context, name string) (awslambda.Handler, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}

	e.initOnce.Do(func() {
		fn, err := e.factory(ctx)
		if err != nil {
			e.initErr = fmt.Errorf("initialize %s: %w", name, err)
			return
		}

		handler, isHandler := fn.(awslambda.Handler)
		if !isHandler {
			handler = awslambda.NewHandler(fn)
		}

		r.mu.Lock()
		e.handler = handler
		e.initialized = true
		r.mu.Unlock()
	})

	if e.initErr != nil {
		return nil, e.initErr
	}
	return e.handler, nil
}

// Invoke runs the named function with a raw JSON payload
func (r *Registry) Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	handler, err := r.Handler(ctx, name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	e := r.entries[name]
	e.lastUsed = time.Now()
	r.mu.Unlock()

	e.invokeMu.Lock()
	defer e.invokeMu.Unlock()
	return handler.Invoke(ctx, payload)
}
