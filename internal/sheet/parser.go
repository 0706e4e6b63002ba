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

// Package sheet implements Spreadsheet I/O: parsing an input .xlsx
// workbook into ordered (source_row_index, inputs) pairs, skipping
// header/description/example rows, and assembling results back into
// the original workbook's shape by absolute row index.
package sheet

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/conductorbatch/core/pkg/batchcore"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
)

// SheetName is the single worksheet the parser and assembler operate on.
const SheetName = "batch_data"

// ResultColumn is the column the assembler always appends.
const ResultColumn = "execution_result"

// exampleMarkers is the case/form-insensitive example-row marker set.
var exampleMarkers = map[string]bool{
	"iphone":  true,
	"example": true,
	"示例":      true,
	"sample":  true,
	"test":    true,
}

var caseFolder = cases.Fold()

// ParsedRow is one data row's absolute position in the original sheet
// plus its parameter inputs.
type ParsedRow struct {
	SourceRowIndex int
	Inputs         map[string]string
}

// Parse reads raw xlsx bytes, applies the header/description/example
// row-categorization rule against schema, and returns the remaining
// data rows with their absolute source indices preserved.
func Parse(raw []byte, schema *batchcore.Schema) ([]ParsedRow, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", SheetName, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", SheetName)
	}

	header := rows[0]
	dataStart := 1

	if len(rows) > dataStart && isDescriptionRow(rows[dataStart], header, schema) {
		dataStart++
	}
	if len(rows) > dataStart && isExampleRow(rows[dataStart]) {
		dataStart++
	}

	var parsed []ParsedRow
	for i := dataStart; i < len(rows); i++ {
		if isEmptyRow(rows[i]) {
			continue
		}
		parsed = append(parsed, ParsedRow{
			SourceRowIndex: i,
			Inputs:         rowToInputs(header, rows[i]),
		})
	}
	return parsed, nil
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// isDescriptionRow implements §4.3 rule 2: every non-empty cell reads as
// prose (length > 12 or contains whitespace) and the row does not parse
// as a valid data tuple against schema.
func isDescriptionRow(row, header []string, schema *batchcore.Schema) bool {
	hasContent := false
	for _, cell := range row {
		if strings.TrimSpace(cell) == "" {
			continue
		}
		hasContent = true
		if !looksLikeProse(cell) {
			return false
		}
	}
	if !hasContent {
		return false
	}
	return !matchesSchema(rowToInputs(header, row), schema)
}

// isExampleRow implements §4.3 rule 3: cells match the known example
// marker set, folded for case- and script-insensitive comparison.
func isExampleRow(row []string) bool {
	hasContent := false
	for _, cell := range row {
		trimmed := strings.TrimSpace(cell)
		if trimmed == "" {
			continue
		}
		hasContent = true
		if !exampleMarkers[caseFolder.String(trimmed)] {
			return false
		}
	}
	return hasContent
}

// matchesSchema reports whether inputs parse as a plausible data tuple
// for schema: every required parameter is present, and typed parameters
// (number, select) validate against their constraint. A value that
// reads as prose (§4.3's own length/whitespace heuristic) never counts
// as a match for a string, file or untyped field, since a genuine data
// value for those parameter types is expected to be short-form, not
// narrative. Paragraph values are not checked.
func matchesSchema(inputs map[string]string, schema *batchcore.Schema) bool {
	if schema == nil {
		return true
	}
	for _, p := range schema.Parameters {
		value := strings.TrimSpace(inputs[p.Name])
		if value == "" {
			if p.Required {
				return false
			}
			continue
		}
		switch p.Type {
		case batchcore.ParamNumber:
			if !isNumeric(value) {
				return false
			}
		case batchcore.ParamSelect:
			if !contains(p.Options, value) {
				return false
			}
		case batchcore.ParamString, batchcore.ParamFile, "":
			if looksLikeProse(value) {
				return false
			}
		}
	}
	return true
}

func looksLikeProse(s string) bool {
	return len(s) > 12 || strings.ContainsAny(s, " \t")
}

func isNumeric(s string) bool {
	sawDigit := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			sawDigit = true
		case r == '-' && i == 0, r == '.':
		default:
			return false
		}
	}
	return sawDigit
}

func contains(options []string, value string) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}

func rowToInputs(header, row []string) map[string]string {
	inputs := make(map[string]string, len(header))
	for i, col := range header {
		if i >= len(row) {
			inputs[col] = ""
			continue
		}
		inputs[col] = row[i]
	}
	return inputs
}
