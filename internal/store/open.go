// internal/store/open.go
package store

import (
	"context"
	"log/slog"
)

// DriverMemory keeps records in process memory. Nothing survives exit.
const DriverMemory = "memory"

// Open returns the store selected by driver. Postgres drivers connect and
// migrate before returning.
func Open(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (Store, error) {
	if cfg.Driver == DriverMemory {
		if logger != nil {
			logger.WarnContext(ctx, "using in-memory store; data is lost on exit")
		}
		return NewMemoryStore(), nil
	}
	return OpenPostgres(ctx, cfg, logger)
}
