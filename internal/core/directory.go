package core

// directory.go resolves which administrators should be notified about a
// departure claim. A division without its own administrators falls back
// to the full administrator list, so a claim is never raised into a void.

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pgDirectory struct {
	pool *pgxpool.Pool
}

// NewDirectory creates a Postgres-backed Directory.
func NewDirectory(pool *pgxpool.Pool) Directory {
	return &pgDirectory{pool: pool}
}

func (d *pgDirectory) AdminsFor(ctx context.Context, division string) ([]Actor, error) {
	admins, err := d.queryAdmins(ctx, `SELECT tab_number, name FROM admins WHERE division = $1`, division)
	if err != nil {
		return nil, err
	}
	if len(admins) == 0 {
		return d.queryAdmins(ctx, `SELECT tab_number, name FROM admins`)
	}
	return admins, nil
}

func (d *pgDirectory) queryAdmins(ctx context.Context, query string, args ...interface{}) ([]Actor, error) {
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage("query admins", err)
	}
	defer rows.Close()

	var admins []Actor
	for rows.Next() {
		var a Actor
		if err := rows.Scan(&a.TabNumber, &a.Name); err != nil {
			return nil, wrapStorage("scan admin", err)
		}
		admins = append(admins, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage("iterate admins", err)
	}
	return admins, nil
}
