package database

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
)

// CreateGINIndexes creates full-text search GIN indexes for PostgreSQL.
// These back pkg/api's source and entity search endpoints without adding a
// dedicated search engine dependency.
func CreateGINIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	// GIN index for source line content full-text search
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_source_lines_content_gin
		ON source_lines USING gin(to_tsvector('english', content))`)
	if err != nil {
		return fmt.Errorf("failed to create content GIN index: %w", err)
	}

	// GIN index for entity description full-text search
	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_entities_description_gin
		ON entities USING gin(to_tsvector('english', COALESCE(description, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create description GIN index: %w", err)
	}

	return nil
}
