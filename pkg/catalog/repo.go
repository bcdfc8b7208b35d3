// Package catalog stores versioned raster datasets: parquet files on
// disk, version bookkeeping in Postgres reached through the DuckDB
// postgres extension.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/duckdb/duckdb-go/v2"

	"gridkit/pkg/raster"
)

// Repository manages published raster versions.
type Repository struct {
	connector *duckdb.Connector
	pgConnStr string
	db        *sql.DB
}

// NewRepository wires a repository over an open DuckDB connector and a
// Postgres connection string for the catalog.
func NewRepository(connector *duckdb.Connector, pgConnStr string, db *sql.DB) *Repository {
	return &Repository{
		connector: connector,
		pgConnStr: pgConnStr,
		db:        db,
	}
}

// PublishOptions carries audit fields for a published version.
type PublishOptions struct {
	Author    string
	CommitMsg string
}

// dataDir resolves the raster data directory, defaulting to ./data.
func dataDir() (string, error) {
	dir := os.Getenv("GRID_DATA_DIR")
	if dir == "" {
		dir = "./data"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data dir: %w", err)
	}
	return dir, nil
}

// Publish evaluates the raster, writes it as a new parquet version
// under the data directory and records it in the catalog. The previous
// active version for the dataset gets its end date closed.
func (r *Repository) Publish(ctx context.Context, rs *raster.Raster, name string, opts PublishOptions) error {
	if name == "" {
		return fmt.Errorf("dataset name must not be empty")
	}
	dir, err := dataDir()
	if err != nil {
		return err
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%d.parquet", name, time.Now().UnixNano()))
	if err := rs.Save(ctx, path); err != nil {
		return fmt.Errorf("failed to write raster parquet: %w", err)
	}

	if err := r.attachCatalog(ctx); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Rollback if not committed

	createTable := `
	CREATE TABLE IF NOT EXISTS postgres_db.raster_catalogs (
		VERSION INTEGER,
		NAME TEXT,
		START_DATE DATE,
		END_DATE DATE,
		RASTER_FILE TEXT,
		AUTHOR TEXT,
		COMMIT_MSG TEXT
	)`
	if _, err := tx.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create catalog table: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE postgres_db.raster_catalogs SET END_DATE = CURRENT_DATE WHERE NAME = ? AND END_DATE IS NULL", name)
	if err != nil {
		return fmt.Errorf("failed to close previous catalog entries: %w", err)
	}

	var nextVersion int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(VERSION), 0) + 1 FROM postgres_db.raster_catalogs WHERE NAME = ?", name).Scan(&nextVersion)
	if err != nil {
		return fmt.Errorf("failed to get next version: %w", err)
	}

	insertQuery := `INSERT INTO postgres_db.raster_catalogs
		(VERSION, NAME, START_DATE, END_DATE, RASTER_FILE, AUTHOR, COMMIT_MSG)
		VALUES (?, ?, CURRENT_DATE, NULL, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertQuery, nextVersion, name, path, opts.Author, opts.CommitMsg); err != nil {
		return fmt.Errorf("failed to insert catalog record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetLatest opens the active version of a dataset.
func (r *Repository) GetLatest(ctx context.Context, name string) (*raster.Raster, error) {
	path, _, err := r.LatestFile(ctx, name)
	if err != nil {
		return nil, err
	}
	return raster.Open(path)
}

// LatestFile returns the parquet path and version of the active catalog
// entry without loading the data.
func (r *Repository) LatestFile(ctx context.Context, name string) (string, int, error) {
	if err := r.attachCatalog(ctx); err != nil {
		return "", 0, err
	}

	query := `
		SELECT RASTER_FILE, VERSION
		FROM postgres_db.raster_catalogs
		WHERE NAME = ? AND END_DATE IS NULL
		ORDER BY VERSION DESC
		LIMIT 1
	`
	var path string
	var version int
	err := r.db.QueryRowContext(ctx, query, name).Scan(&path, &version)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", 0, fmt.Errorf("no active catalog entry for %q", name)
		}
		return "", 0, fmt.Errorf("failed to query latest catalog: %w", err)
	}
	return path, version, nil
}

// ListDatasets returns the names of datasets with an active version.
func (r *Repository) ListDatasets(ctx context.Context) ([]string, error) {
	if err := r.attachCatalog(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT DISTINCT NAME FROM postgres_db.raster_catalogs WHERE END_DATE IS NULL ORDER BY NAME")
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (r *Repository) attachCatalog(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "INSTALL postgres; LOAD postgres;"); err != nil {
		return fmt.Errorf("failed to load postgres extension: %w", err)
	}
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf("ATTACH IF NOT EXISTS '%s' AS postgres_db (TYPE POSTGRES)", r.pgConnStr))
	if err != nil {
		return fmt.Errorf("failed to attach postgres: %w", err)
	}
	return nil
}
