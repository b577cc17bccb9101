// Copyright 2019 Anapaya Systems
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

package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrFmt(t *testing.T) {
	f := func(t *testing.T, expect error, err error) {
		t.Helper()
		expectedMsg := fmt.Sprintf("%s {detailMsg=test}", expect)
		require.Equal(t, expectedMsg, err.Error())
		require.ErrorIs(t, err, expect)
	}

	f(t, ErrTx, NewTxError("test", nil))
	f(t, ErrInvalidInputData, NewInputDataError("test", nil))
	f(t, ErrDataInvalid, NewDataError("test", nil))
	f(t, ErrReadFailed, NewReadError("test", nil))
	f(t, ErrWriteFailed, NewWriteError("test", nil))
}

func TestErrToMetricLabel(t *testing.T) {
	testCases := map[string]struct {
		err  error
		want string
	}{
		"nil":   {nil, "ok"},
		"tx":    {NewTxError("begin", errors.New("busy")), "err_tx"},
		"input": {NewInputDataError("encode", nil), "err_input_data_invalid"},
		"data":  {NewDataError("decode", nil), "err_db_data_invalid"},
		"read":  {NewReadError("select", nil), "err_db_read"},
		"write": {NewWriteError("insert", nil), "err_db_write"},
		"other": {errors.New("boom"), "err_db"},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ErrToMetricLabel(tc.err))
		})
	}
}
