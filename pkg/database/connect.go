package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type ConnectionConfig struct {
	Driver          string
	Host            string
	Port            string
	UserName        string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c ConnectionConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.UserName, c.Password, c.Name, c.SSLMode,
	)
}

// Connect opens and pings the database, then applies the pool settings.
func Connect(ctx context.Context, config ConnectionConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, config.Driver, config.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to %s database '%s': %w", config.Driver, config.Name, err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	return db, nil
}

// RunMigrations applies the file migrations to the connected database.
func RunMigrations(logger ectologger.Logger, db *sqlx.DB, databaseName string, config *MigrationConfig) error {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	return NewMigrationService(logger, config).Migrate(databaseName, driver)
}
