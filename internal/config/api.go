package config

import (
	"fmt"
	"os"

	"github.com/JaimeStill/conveyor/pkg/formatting"
	"github.com/JaimeStill/conveyor/pkg/pagination"
)

var paginationEnv = &pagination.Env{
	DefaultPageSize: "CONVEYOR_PAGINATION_DEFAULT_PAGE_SIZE",
	MaxPageSize:     "CONVEYOR_PAGINATION_MAX_PAGE_SIZE",
}

// APIConfig holds API routing and pagination settings.
type APIConfig struct {
	BasePath      string            `toml:"base_path"`
	MaxUploadSize string            `toml:"max_upload_size"`
	Pagination    pagination.Config `toml:"pagination"`
}

// MaxUploadSizeBytes returns the upload limit in bytes.
func (c *APIConfig) MaxUploadSizeBytes() int64 {
	size, err := formatting.ParseBytes(c.MaxUploadSize)
	if err != nil {
		return 100 * 1024 * 1024
	}
	return size
}

// Finalize applies defaults, environment variable overrides, and
// validation for the API config and its nested pagination config.
func (c *APIConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.Pagination.Finalize(paginationEnv); err != nil {
		return fmt.Errorf("pagination: %w", err)
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *APIConfig) Merge(overlay *APIConfig) {
	if overlay.BasePath != "" {
		c.BasePath = overlay.BasePath
	}
	if overlay.MaxUploadSize != "" {
		c.MaxUploadSize = overlay.MaxUploadSize
	}
	c.Pagination.Merge(&overlay.Pagination)
}

func (c *APIConfig) loadDefaults() {
	if c.BasePath == "" {
		c.BasePath = "/api"
	}
	if c.MaxUploadSize == "" {
		c.MaxUploadSize = "100MB"
	}
}

func (c *APIConfig) loadEnv() {
	if v := os.Getenv("CONVEYOR_API_BASE_PATH"); v != "" {
		c.BasePath = v
	}
	if v := os.Getenv("CONVEYOR_API_MAX_UPLOAD_SIZE"); v != "" {
		c.MaxUploadSize = v
	}
}
