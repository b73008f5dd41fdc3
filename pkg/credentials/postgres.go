package credentials

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/capgraph/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

func postgresMigrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE credentials (
				id VARCHAR(255) PRIMARY KEY,
				data JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`,
	}
}

// PostgresStore reads credentials from the credentials table.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore connects to the database and migrates the credentials table.
func NewPostgresStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*PostgresStore, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrations := sqlbase.NewMigrationManager(logger, database, "credentials_schema_migrations", postgresMigrations())

	err = migrations.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: database, logger: logger}, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (map[string]any, error) {
	var raw []byte

	err := s.db.QueryRowContext(ctx, "SELECT data FROM credentials WHERE id = $1", id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, id)
		}

		return nil, fmt.Errorf("failed to query credential %s: %w", id, err)
	}

	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("failed to decode credential %s: %w", id, err)
	}

	return values, nil
}

// Set inserts or replaces a credential.
func (s *PostgresStore) Set(ctx context.Context, id string, values map[string]any) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode credential %s: %w", id, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, data) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`, id, data)
	if err != nil {
		return fmt.Errorf("failed to save credential %s: %w", id, err)
	}

	s.logger.DebugContext(ctx, "Saved credential", "credential_id", id)

	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}
