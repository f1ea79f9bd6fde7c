//go:build cgo

package logstore

import (
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

func dsn(path string) string {
	return path + "?_journal=WAL&_timeout=5000&_sync=FULL"
}
