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
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ResultEntry pairs a row's absolute source index with its rendered
// result text.
type ResultEntry struct {
	SourceRowIndex int
	Text           string
}

// Assemble writes results back into the original workbook at their
// absolute source indices, appending one execution_result column.
// Entries may arrive out of source order and need not cover every data
// row; rows with no entry get a blank result cell. Description and
// example rows are left untouched.
func Assemble(original []byte, results []ResultEntry) ([]byte, error) {
	f, err := excelize.OpenReader(bytes.NewReader(original))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	header, err := f.GetRows(SheetName)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", SheetName, err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", SheetName)
	}

	resultCol := len(header[0]) + 1
	colName, err := excelize.ColumnNumberToName(resultCol)
	if err != nil {
		return nil, fmt.Errorf("computing result column: %w", err)
	}

	headerCell := fmt.Sprintf("%s1", colName)
	if err := f.SetCellValue(SheetName, headerCell, ResultColumn); err != nil {
		return nil, fmt.Errorf("writing result header: %w", err)
	}

	for _, entry := range results {
		cell, err := excelize.CoordinatesToCellName(resultCol, entry.SourceRowIndex+1)
		if err != nil {
			return nil, fmt.Errorf("computing cell for row %d: %w", entry.SourceRowIndex, err)
		}
		if err := f.SetCellValue(SheetName, cell, entry.Text); err != nil {
			return nil, fmt.Errorf("writing result for row %d: %w", entry.SourceRowIndex, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("serializing workbook: %w", err)
	}
	return buf.Bytes(), nil
}
