package main

import (
	"context"
	"sync"

	"lambda-event-patterns/internal/config"
	"lambda-event-patterns/internal/functions"
	"lambda-event-patterns/pkg/lambda"
	"lambda-event-patterns/pkg/server"
)

// catalog registers the functions with a registry. All functions share one
// container, built on the first invocation.
type catalog struct {
	cfg *config.Config

	once      sync.Once
	container *server.Container
	err       error
}

func newCatalog(cfg *config.Config) *catalog {
	return &catalog{cfg: cfg}
}

func (c *catalog) shared(ctx context.Context) (*server.Container, error) {
	c.once.Do(func() {
		c.container, c.err = server.NewContainer(ctx, c.cfg)
	})
	return c.container, c.err
}

// Registry returns a registry holding every function that answers with a
// buffered payload. Streaming functions are left out.
func (c *catalog) Registry() *lambda.Registry {
	registry := lambda.NewRegistry()
	for _, f := range functions.All() {
		if f.Streaming {
			continue
		}

		f := f
		registry.Register(f.Name, func(ctx context.Context) (interface{}, error) {
			if err := config.Require(f.Required...); err != nil {
				return nil, err
			}
			container, err := c.shared(ctx)
			if err != nil {
				return nil, err
			}
			return f.Build(ctx, container)
		})
	}
	return registry
}

// Close releases the shared container when it was built
func (c *catalog) Close() error {
	if c.container == nil {
		return nil
	}
	return c.container.Close()
}
