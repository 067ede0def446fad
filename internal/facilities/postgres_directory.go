package facilities

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresDirectory reads the facilities table.
type PostgresDirectory struct {
	db rowQuerier
}

// NewPostgresDirectory creates a directory backed by pool.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	if pool == nil {
		panic("facilities: pgx pool required")
	}
	return &PostgresDirectory{db: pool}
}

func newPostgresDirectoryWithQuerier(db rowQuerier) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Nearby lists facilities whose location matches, alphabetically.
func (d *PostgresDirectory) Nearby(ctx context.Context, location string, limit int) ([]Facility, error) {
	query := `
		SELECT id, name, specialty, location, COALESCE(address, ''), COALESCE(phone, '')
		FROM facilities
		WHERE lower(location) = $1
		ORDER BY name
		LIMIT $2
	`
	rows, err := d.db.Query(ctx, query, normalizeLocation(location), limit)
	if err != nil {
		return nil, fmt.Errorf("facilities: query nearby: %w", err)
	}
	defer rows.Close()

	var out []Facility
	for rows.Next() {
		var f Facility
		if err := rows.Scan(&f.ID, &f.Name, &f.Specialty, &f.Location, &f.Address, &f.Phone); err != nil {
			return nil, fmt.Errorf("facilities: scan: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("facilities: rows: %w", err)
	}
	return out, nil
}
