// Package api assembles the API module with all pipeline systems and
// route registration.
package api

import (
	"context"
	"net/http"

	"github.com/JaimeStill/conveyor/internal/config"
	"github.com/JaimeStill/conveyor/internal/infrastructure"
	"github.com/JaimeStill/conveyor/pkg/middleware"
	"github.com/JaimeStill/conveyor/pkg/module"
)

// NewModule creates the API module with all pipeline handlers and
// middleware, returning the assembled Domain so callers can run the
// admission worker against the same systems.
func NewModule(ctx context.Context, cfg *config.Config, infra *infrastructure.Infrastructure) (*module.Module, *Domain, error) {
	runtime := NewRuntime(cfg, infra)

	domain, err := NewDomain(ctx, runtime)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	registerRoutes(mux, domain, cfg, runtime)

	m := module.New(cfg.API.BasePath, mux)
	m.Use(middleware.Logger(runtime.Logger))

	return m, domain, nil
}
