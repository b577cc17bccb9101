// Copyright 2025 ETH Zurich, Anapaya Systems
// Copyright 2026 The stagemux Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package db opens the sqlite databases of stagemux.
//
// The sqlite implementation is chosen at build time: modernc.org/sqlite is
// used by default, github.com/mattn/go-sqlite3 with the sqlite_mattn build
// tag.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"sync"
)

type Reader interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Stats() sql.DBStats
}

// SqliteConfig allows configuring the sqlite database instance.
type SqliteConfig struct {
	MaxOpenReadConns int
	MaxIdleReadConns int
	InMemory         bool
}

// NewSqlite opens a sqlite database with a read and a write connection pool.
// The write pool is limited to one open connection. The read pool defaults to
// one connection per CPU, but at least four.
//
// With InMemory set, path names a shared in-memory database. The name must be
// unique in the process.
func NewSqlite(path string, cfg *SqliteConfig) (*Sqlite, error) {
	c := func() SqliteConfig {
		if cfg != nil {
			return *cfg
		}
		return SqliteConfig{}
	}()

	// :memory: gives every connection its own database.
	if strings.Contains(path, ":memory:") {
		return nil, fmt.Errorf("use explicitly named memory database")
	}
	noFile, ok := strings.CutPrefix(path, "file:")

	connParams := make(url.Values)
	addPragmas(connParams)
	if c.InMemory {
		registerMemoryDB(noFile)
		connParams.Add("mode", "memory")
		// The read and write pools share the in-memory database.
		connParams.Add("cache", "shared")
	}

	connURL := path + "?" + connParams.Encode()
	if !ok {
		connURL = "file:" + connURL
	}

	write, err := sql.Open(driverName(), connURL)
	if err != nil {
		return nil, fmt.Errorf("opening write database: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open(driverName(), connURL)
	if err != nil {
		defer write.Close()
		return nil, fmt.Errorf("opening read database: %w", err)
	}
	if c.MaxOpenReadConns == 0 {
		c.MaxOpenReadConns = max(4, runtime.NumCPU())
	}
	read.SetMaxOpenConns(c.MaxOpenReadConns)
	if c.MaxIdleReadConns != 0 {
		read.SetMaxIdleConns(c.MaxIdleReadConns)
	}

	db := &Sqlite{
		Full:     write,
		ReadOnly: read,
	}
	if c.InMemory {
		runtime.AddCleanup(db, func(name string) { unregisterMemoryDB(name) }, noFile)
	}
	return db, nil
}

type Sqlite struct {
	Full     *sql.DB
	ReadOnly Reader
}

// Setup applies the schema to a new database and checks the schema version of
// an existing one.
func (db *Sqlite) Setup(schema string, schemaVersion int) error {
	var existingVersion int
	if err := db.Full.QueryRow("PRAGMA user_version;").Scan(&existingVersion); err != nil {
		return fmt.Errorf("checking database schema version: %w", err)
	}
	switch {
	case existingVersion == 0:
		if _, err := db.Full.Exec(schema); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
		_, err := db.Full.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
		if err != nil {
			return fmt.Errorf("writing schema version: %w", err)
		}
		return nil
	case existingVersion != schemaVersion:
		return fmt.Errorf("database schema version mismatch: expected %d, have %d",
			schemaVersion, existingVersion,
		)
	default:
		return nil
	}
}

func (db *Sqlite) Close() error {
	var errs []error
	if err := db.Full.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing write db: %w", err))
	}
	if err := db.ReadOnly.(*sql.DB).Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing read db: %w", err))
	}
	return errors.Join(errs...)
}

// memoryDBCheck prevents two in-memory databases with the same name, which
// would share the underlying database.
var memoryDBCheck = struct {
	mtx sync.Mutex
	dbs map[string]struct{}
}{
	dbs: make(map[string]struct{}),
}

func registerMemoryDB(name string) {
	memoryDBCheck.mtx.Lock()
	defer memoryDBCheck.mtx.Unlock()
	if _, ok := memoryDBCheck.dbs[name]; ok {
		panic(fmt.Sprintf("memory database with name %s already exists", name))
	}
	memoryDBCheck.dbs[name] = struct{}{}
}

func unregisterMemoryDB(name string) {
	memoryDBCheck.mtx.Lock()
	defer memoryDBCheck.mtx.Unlock()
	delete(memoryDBCheck.dbs, name)
}
