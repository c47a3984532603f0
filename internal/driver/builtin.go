package driver

import (
	"context"
	"fmt"
	"log/slog"

	"ex-mirror/internal/driver/telegram"
)

// NewBuiltinRegistry constructs the runtime registry with all built-in backends.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{
			Type: telegram.DriverType,
			Builder: func(
				_ context.Context,
				definition Definition,
				builderLogger *slog.Logger,
			) (Runtime, error) {
				runtime, err := telegram.BuildRuntimeFromConfig(
					definition.Name,
					builderLogger,
					definition.Config,
				)
				if err != nil {
					return Runtime{}, fmt.Errorf("build telegram runtime from config: %w", err)
				}

				return Runtime{
					Name:       definition.Name,
					Remote:     runtime.Service,
					Session:    runtime,
					Credential: runtime.Credential,
				}, nil
			},
		},
	})
}
