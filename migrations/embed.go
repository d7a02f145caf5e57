// Package migrations carries the identity schema as goose SQL files.
// Importing it for side effects hands the files to the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
)

//go:embed *.sql
var schema embed.FS

func init() {
	database.MigrationsFS = schema
	database.MigrationsDir = "."
}
