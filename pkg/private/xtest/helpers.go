// Copyright 2018 ETH Zurich
// Copyright 2020 ETH Zurich, Anapaya Systems
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

// Package xtest contains helpers shared by the tests of stagemux.
package xtest

import (
	"encoding/hex"
	"flag"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

// UpdateGoldenFiles registers the '-update' flag for the test.
//
// This flag should be checked by golden file tests to see whether the golden
// files should be updated or not. The golden files must be deterministic.
//
// To update the golden files of a package, run:
//
//	go test ./path/to/package -update
//
// The flag should be registered as a package global variable:
//
//	var update = xtest.UpdateGoldenFiles()
func UpdateGoldenFiles() *bool {
	return flag.Bool("update", false, "set to regenerate the golden files")
}

// ExpandPath returns testdata/file.
func ExpandPath(file string) string {
	return filepath.Join("testdata", file)
}

// MustReadFromFile reads testdata/baseName and returns the raw content. On
// errors, t.Fatal() is called.
func MustReadFromFile(t testing.TB, baseName string) []byte {
	t.Helper()

	b, err := os.ReadFile(ExpandPath(baseName))
	require.NoError(t, err)
	return b
}

// MustWriteToFile writes b to file testdata/baseName. If the file exists, it
// is truncated; if it doesn't exist, it is created.
func MustWriteToFile(t testing.TB, b []byte, baseName string) {
	t.Helper()

	require.NoError(t, os.WriteFile(ExpandPath(baseName), b, 0644))
}

// MustParseHexString parses s and returns the corresponding byte slice.
// Whitespace is ignored. It panics if the decoding fails.
func MustParseHexString(s string) []byte {
	s = regexp.MustCompile(`\s+`).ReplaceAllString(s, "")
	decoded, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return decoded
}

// TempFileName returns the name of a not yet existing file inside a
// temporary directory that is removed when the test finishes.
func TempFileName(t testing.TB, prefix string) string {
	t.Helper()

	file, err := os.CreateTemp(t.TempDir(), prefix)
	require.NoError(t, err)
	name := file.Name()
	require.NoError(t, file.Close())
	require.NoError(t, os.Remove(name))
	return name
}
