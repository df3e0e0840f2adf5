package paysaga

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Invoker calls an activity with an untyped input.
type Invoker func(ctx context.Context, input any) (any, error)

// Middleware decorates every activity invocation made through a registry.
type Middleware func(name ActivityName, next Invoker) Invoker

// ActivityHandler is a registered activity.
type ActivityHandler struct {
	Name ActivityName

	invoke Invoker
	bind   func(Invoker) any
}

// Invoke runs the activity. Inputs of another type are converted through
// JSON, the way a remote worker would receive them.
func (h *ActivityHandler) Invoke(ctx context.Context, input any) (any, error) {
	return h.invoke(ctx, input)
}

// Func returns the activity as a typed func(context.Context, I) (O, error)
// running through invoker, for registration with a worker.
func (h *ActivityHandler) Func(invoker Invoker) any {
	return h.bind(invoker)
}

// ActivityRegistry holds the activities available to sagas.
//
// A saga restored from a checkpoint only knows the names of the activities it
// still has to call, so activities are looked up by ActivityName rather than
// referenced directly.
type ActivityRegistry struct {
	handlers    *xsync.MapOf[ActivityName, *ActivityHandler]
	middlewares []Middleware
}

// NewActivityRegistry creates an empty registry.
func NewActivityRegistry(middlewares ...Middleware) *ActivityRegistry {
	return &ActivityRegistry{
		handlers:    xsync.NewMapOf[ActivityName, *ActivityHandler](),
		middlewares: middlewares,
	}
}

// Register adds a typed activity under name.
func Register[I, O any](r *ActivityRegistry, name ActivityName, fn func(context.Context, I) (O, error)) error {
	invoke := func(ctx context.Context, input any) (any, error) {
		in, err := convert[I](input)
		if err != nil {
			return nil, Invalid(fmt.Sprintf("activity %s: bad input: %v", name, err))
		}
		return fn(ctx, in)
	}
	handler := &ActivityHandler{
		Name:   name,
		invoke: invoke,
		bind: func(invoker Invoker) any {
			return func(ctx context.Context, in I) (O, error) {
				var zero O
				out, err := invoker(ctx, in)
				if err != nil {
					return zero, err
				}
				typed, ok := out.(O)
				if !ok {
					return zero, fmt.Errorf("activity %s returned %T, want %T", name, out, zero)
				}
				return typed, nil
			}
		},
	}

	if _, loaded := r.handlers.LoadOrStore(name, handler); loaded {
		return fmt.Errorf("activity with name '%s' already registered", name)
	}
	return nil
}

// MustRegister is Register that panics on a duplicate name.
func MustRegister[I, O any](r *ActivityRegistry, name ActivityName, fn func(context.Context, I) (O, error)) {
	if err := Register(r, name, fn); err != nil {
		panic(err)
	}
}

// Get retrieves an activity by name.
func (r *ActivityRegistry) Get(name ActivityName) (*ActivityHandler, error) {
	handler, ok := r.handlers.Load(name)
	if !ok {
		return nil, fmt.Errorf("activity %s: %w", name, ErrNotFound)
	}
	return handler, nil
}

// Invoker returns the middleware-wrapped invoker of name.
func (r *ActivityRegistry) Invoker(name ActivityName) (Invoker, error) {
	handler, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	invoker := handler.invoke
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		invoker = r.middlewares[i](name, invoker)
	}
	return invoker, nil
}

// Names returns the registered names, sorted.
func (r *ActivityRegistry) Names() []ActivityName {
	names := make([]ActivityName, 0, r.handlers.Size())
	r.handlers.Range(func(name ActivityName, _ *ActivityHandler) bool {
		names = append(names, name)
		return true
	})
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Missing returns the names in want that are not registered.
func (r *ActivityRegistry) Missing(want ...ActivityName) []ActivityName {
	var missing []ActivityName
	for _, name := range want {
		if _, ok := r.handlers.Load(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Each calls fn with every handler and its wrapped invoker.
func (r *ActivityRegistry) Each(fn func(handler *ActivityHandler, invoker Invoker)) {
	for _, name := range r.Names() {
		handler, _ := r.handlers.Load(name)
		invoker, _ := r.Invoker(name)
		fn(handler, invoker)
	}
}

// convert returns input as T, decoding through JSON when it holds some other
// type.
func convert[T any](input any) (T, error) {
	if typed, ok := input.(T); ok {
		return typed, nil
	}
	var out T
	var data []byte
	switch v := input.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		var err error
		if data, err = json.Marshal(input); err != nil {
			return out, fmt.Errorf("failed to marshal %T: %w", input, err)
		}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal into %T: %w", out, err)
	}
	return out, nil
}

// Assign copies an activity output into dst (a pointer). Values cross a JSON
// boundary so the caller never shares memory with the activity.
func Assign(dst any, output any) error {
	if dst == nil {
		return nil
	}
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal activity output: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal activity output: %w", err)
	}
	return nil
}
