// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sheet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestAssemble_WritesByAbsoluteIndexLeavesGapsBlank(t *testing.T) {
	raw := buildWorkbook(t, [][]string{
		{"search_term"},
		{"the term to search"},
		{"iPhone"},
		{"huawei"},
		{"xiaomi"},
		{"oppo"},
	})

	out, err := Assemble(raw, []ResultEntry{
		{SourceRowIndex: 3, Text: "result for huawei"},
		{SourceRowIndex: 5, Text: "result for oppo"},
	})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)

	assert.Equal(t, ResultColumn, rows[0][1])
	assert.Equal(t, "the term to search", rows[1][0])
	assert.Equal(t, "iPhone", rows[2][0])
	assert.Equal(t, "result for huawei", rows[3][1])
	assert.True(t, len(rows[4]) < 2 || rows[4][1] == "")
	assert.Equal(t, "result for oppo", rows[5][1])
}
