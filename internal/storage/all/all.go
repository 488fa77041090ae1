// Package all registers every storage backend with the factory. Binaries
// blank-import it so config alone selects the backend.
package all

import (
	_ "playmart/internal/storage/mssql"
	_ "playmart/internal/storage/postgres"
	_ "playmart/internal/storage/sqlite"
)
