package storage

import (
	"github.com/ignatij/seqflow/pkg/storage"
	"github.com/pkg/errors"
)

// InitStore opens the store selected by driver. SQLite databases are migrated
// on open; Postgres schemas are managed with seqflow-migrate.
func InitStore(driver, dsn string) (storage.Store, error) {
	switch driver {
	case "", "memory":
		return storage.NewMemoryStore(), nil
	case PostgresDriver:
		store, err := NewPostgresStore(dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	case SQLiteDriver:
		store, err := NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		if err := Migrate(store); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}
	return nil, errors.Errorf("unsupported database driver %q", driver)
}

// OpenSQL opens a SQL store without migrating it.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case PostgresDriver:
		return NewPostgresStore(dsn)
	case SQLiteDriver:
		return NewSQLiteStore(dsn)
	}
	return nil, errors.Errorf("driver %q has no SQL schema", driver)
}
