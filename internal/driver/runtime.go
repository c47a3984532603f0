package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"ex-mirror/pkg/mirror"
)

// Definition describes one configured backend entry.
type Definition struct {
	// Name is the stable configured backend instance identifier.
	Name string
	// Type identifies which builder should construct this runtime.
	Type string
	// Enabled controls whether this definition is active.
	Enabled bool
	// Config stores backend-type-specific JSON payload.
	Config []byte
}

// Session keeps one backend connection open while fn runs.
type Session interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// Runtime contains one fully built backend runtime instance.
type Runtime struct {
	// Name is the configured backend instance name.
	Name string
	// Remote is the remote service the facade binds to.
	Remote mirror.RemoteService
	// Session owns the connection Remote needs. Remote is usable only inside
	// Session.Run.
	Session Session
	// Credential is the login configured for this backend.
	Credential mirror.Credential
}

// BuilderFunc builds one runtime from one configured backend definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor binds one backend type token to a runtime builder.
type Descriptor struct {
	// Type is the backend type token from configuration (for example "telegram").
	Type string
	// Builder constructs one runtime instance for this backend type.
	Builder BuilderFunc
}

// Registry maps backend types to runtime builders.
type Registry struct {
	builders map[string]BuilderFunc
	types    []string
}

// NewRegistry creates one immutable backend registry from descriptors.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	builders := make(map[string]BuilderFunc, len(descriptors))
	types := make([]string, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if descriptor.Type == "" {
			return nil, fmt.Errorf("new registry: empty descriptor type")
		}
		if descriptor.Builder == nil {
			return nil, fmt.Errorf("new registry type %s: nil builder", descriptor.Type)
		}
		if _, exists := builders[descriptor.Type]; exists {
			return nil, fmt.Errorf("new registry type %s: %w", descriptor.Type, mirror.ErrDriverAlreadyRegistered)
		}

		builders[descriptor.Type] = descriptor.Builder
		types = append(types, descriptor.Type)
	}
	sort.Strings(types)

	return &Registry{
		builders: builders,
		types:    types,
	}, nil
}

// Types returns all registered backend types in deterministic sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	types := make([]string, len(r.types))
	copy(types, r.types)

	return types
}

// BuildEnabled builds all enabled backend definitions.
func (r *Registry) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	logger *slog.Logger,
) ([]Runtime, error) {
	if r == nil {
		return nil, fmt.Errorf("build backends: nil registry")
	}

	runtimes := make([]Runtime, 0, len(definitions))
	seenNames := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build backend: empty name")
		}
		if _, exists := seenNames[definition.Name]; exists {
			return nil, fmt.Errorf("build backend %s: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}
		if definition.Type == "" {
			return nil, fmt.Errorf("build backend %s: empty type", definition.Name)
		}

		builder, exists := r.builders[definition.Type]
		if !exists {
			return nil, fmt.Errorf("build backend %s type %s: unsupported type", definition.Name, definition.Type)
		}

		runtime, err := builder(ctx, definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build backend %s type %s: %w", definition.Name, definition.Type, err)
		}
		if runtime.Remote == nil {
			return nil, fmt.Errorf("build backend %s type %s: nil remote service", definition.Name, definition.Type)
		}
		if runtime.Session == nil {
			return nil, fmt.Errorf("build backend %s type %s: nil session", definition.Name, definition.Type)
		}
		if runtime.Name == "" {
			runtime.Name = definition.Name
		}

		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}
