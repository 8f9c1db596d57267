package mpostgres

import (
	"database/sql"
	"errors"
	"net/url"
	"path/filepath"

	"github.com/AureliaStudio/conveyor/pkg/mlog"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"

	// File system migration source. We need to import it to be able to use it as source in migrate.NewWithSourceInstance
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// PostgresConnection is a hub which deal with postgres connections.
type PostgresConnection struct {
	ConnectionString string
	DBName           string
	MigrationsPath   string
	ConnectionDB     *sql.DB
	Connected        bool
	Logger           mlog.Logger
}

// Connect keeps a singleton connection with postgres and applies pending migrations.
func (pc *PostgresConnection) Connect() error {
	pc.Logger.Info("Connecting to postgres...")

	db, err := sql.Open("pgx", pc.ConnectionString)
	if err != nil {
		pc.Logger.Errorf("failed to open connect to database: %v", err)

		return err
	}

	if pc.MigrationsPath != "" {
		migrationsPath, err := filepath.Abs(pc.MigrationsPath)
		if err != nil {
			pc.Logger.Errorf("failed to resolve migrations path: %v", err)

			return err
		}

		sourceURL, err := url.Parse(filepath.ToSlash(migrationsPath))
		if err != nil {
			pc.Logger.Errorf("failed to parse migrations url: %v", err)

			return err
		}

		sourceURL.Scheme = "file"

		driver, err := postgres.WithInstance(db, &postgres.Config{
			MultiStatementEnabled: true,
			DatabaseName:          pc.DBName,
			SchemaName:            "public",
		})
		if err != nil {
			pc.Logger.Errorf("failed to create migration driver: %v", err)

			return err
		}

		m, err := migrate.NewWithDatabaseInstance(sourceURL.String(), pc.DBName, driver)
		if err != nil {
			pc.Logger.Errorf("failed to get migrations: %v", err)

			return err
		}

		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
	}

	if err := db.Ping(); err != nil {
		pc.Logger.Errorf("PostgresConnection.Ping %v", err)

		return err
	}

	pc.Connected = true
	pc.ConnectionDB = db

	pc.Logger.Info("Connected to postgres ✅ ")

	return nil
}

// GetDB returns a pointer to the postgres connection, initializing it if necessary.
func (pc *PostgresConnection) GetDB() (*sql.DB, error) {
	if pc.ConnectionDB == nil {
		if err := pc.Connect(); err != nil {
			pc.Logger.Errorf("ERRCONECT %s", err)

			return nil, err
		}
	}

	return pc.ConnectionDB, nil
}
