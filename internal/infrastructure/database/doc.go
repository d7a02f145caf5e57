// Package database opens the SQLite identity store and migrates its schema.
//
// Either driver can back the store: mattn/go-sqlite3 ("sqlite3", cgo) or
// modernc.org/sqlite ("sqlite", pure Go). Both are opened with foreign keys
// on, one connection and, when configured, WAL journaling. Migrations are
// goose SQL files compiled into the binary by the migrations package.
//
// The file holds password hashes, token digests and second-factor secrets,
// so Open restricts it to mode 0600.
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	err = db.Migrate(ctx)
package database
