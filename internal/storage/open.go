package storage

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Backend names accepted by Open
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// Open connects the configured backend. BackendNone returns a nil Store,
// which the registry treats as "no durable store".
func Open(backend, sqlitePath, postgresDSN string, logger *logrus.Logger) (Store, error) {
	switch backend {
	case BackendSQLite, "":
		store, err := NewSQLiteStore(sqlitePath, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendPostgres:
		if postgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		store, err := NewPostgresStore(postgresDSN, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", backend)
}
