// Package migrations embeds SQL migration files into the binary.
//
// yeelightd runs its migrations at start-up without needing the SQL files
// on disk.
package migrations

import (
	"embed"

	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
