package core

import (
	"context"
	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

// InitSchema applies the engine's DDL. All statements are idempotent, so
// this is safe to run on every start.
func InitSchema(ctx context.Context, db DBTX) error {
	_, err := db.Exec(ctx, schemaSQL)
	return wrapStorage("init schema", err)
}
