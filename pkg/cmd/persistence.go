// Package cmd provides the shared bootstrap helpers the vodo commands
// use to wire persistence, the job queue, the connector registry and the
// vault from configuration.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence/file"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence/postgresql"
)

// NewPersistence picks the store from the database URL scheme:
// postgres:// selects the SQL store, anything else the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"),
		strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}
