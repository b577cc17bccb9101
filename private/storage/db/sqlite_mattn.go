// Copyright 2023 SCION Association
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

//go:build sqlite_mattn

package db

import (
	"net/url"

	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

// addPragmas configures every connection with the same settings as the
// modernc driver, in the DSN syntax of go-sqlite3.
func addPragmas(q url.Values) {
	q.Set("_txlock", "immediate")
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "1000")
	q.Set("_synchronous", "NORMAL")
	q.Set("_foreign_keys", "1")
}

func driverName() string {
	return "sqlite3"
}
