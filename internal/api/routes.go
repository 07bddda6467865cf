package api

import (
	"net/http"

	"github.com/JaimeStill/conveyor/internal/config"
	"github.com/JaimeStill/conveyor/internal/docstore"
	"github.com/JaimeStill/conveyor/internal/ingest"
	"github.com/JaimeStill/conveyor/internal/rerun"
	"github.com/JaimeStill/conveyor/internal/review"
	"github.com/JaimeStill/conveyor/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
	runtime *Runtime,
) {
	routes.Register(
		mux,
		docstore.NewHandler(domain.Documents, runtime.Logger, runtime.Pagination).Routes(),
		ingest.NewHandler(domain.Ingest, runtime.Logger, cfg.API.MaxUploadSizeBytes()).Routes(),
		review.NewHandler(domain.Review, runtime.Logger, runtime.Pagination).Routes(),
		rerun.NewHandler(domain.Recovery, runtime.Logger).Routes(),
	)
}
