package storage

import (
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/ignatij/seqflow/internal/log"
	"github.com/ignatij/seqflow/migrations"
	"github.com/pkg/errors"
)

// Migrate applies every pending migration of the store's driver.
func Migrate(store *SQLStore) error {
	var (
		src    source.Driver
		target database.Driver
		err    error
	)
	switch store.driver {
	case PostgresDriver:
		if src, err = iofs.New(migrations.Postgres, "postgres"); err != nil {
			return errors.Wrap(err, "load postgres migrations")
		}
		target, err = postgres.WithInstance(store.db.DB, &postgres.Config{})
	case SQLiteDriver:
		if src, err = iofs.New(migrations.SQLite, "sqlite"); err != nil {
			return errors.Wrap(err, "load sqlite migrations")
		}
		target, err = sqlite.WithInstance(store.db.DB, &sqlite.Config{})
	default:
		return errors.Errorf("no migrations for driver %s", store.driver)
	}
	if err != nil {
		return errors.Wrapf(err, "prepare %s migration driver", store.driver)
	}

	m, err := migrate.NewWithInstance("iofs", src, store.driver, target)
	if err != nil {
		return errors.Wrap(err, "initialize migrations")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return errors.Wrap(err, "read migration version")
	}
	log.GetLogger().Infof("Database schema at version %d (dirty=%t)", version, dirty)
	return nil
}
