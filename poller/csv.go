// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.


package poller

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// CSV columns of a register map, in the order WriteCSV emits them.
var csvColumns = []string{
	"uuid", "tag", "alias", "unitId", "function", "address", "quantity",
	"dataType", "byteOrder", "bitPosition", "bitMask", "weight", "frequency",
}

// Older register maps name some columns differently.
var csvColumnAliases = map[string]string{
	"slaverId":     "unitId",
	"readAddress":  "address",
	"readQuantity": "quantity",
	"dataOrder":    "byteOrder",
}

var csvRequired = []string{"tag", "unitId", "function", "address", "dataType"}

// Defaults for empty optional cells.
const (
	defaultByteOrder = "ABCD"
	defaultBitMask   = 0x01
	defaultWeight    = 1.0
	defaultFrequency = 1000
)

// LoadCSV reads a register map from a file.
func LoadCSV(path string) ([]Register, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCSV(f)
}

// ParseCSV reads a register map. Rows without a uuid get a generated one;
// empty optional cells take their defaults and an empty quantity is
// derived from the data type. Every row is validated.
func ParseCSV(r io.Reader) ([]Register, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty CSV")
	}

	index := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		h = strings.TrimSpace(h)
		if canonical, ok := csvColumnAliases[h]; ok {
			h = canonical
		}
		index[h] = i
	}
	for _, col := range csvRequired {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	registers := make([]Register, 0, len(records)-1)
	for i, record := range records[1:] {
		row := i + 2
		reg, err := parseRow(csvRow{record: record, index: index})
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if err := reg.Validate(); err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		registers = append(registers, reg)
	}
	return registers, nil
}

type csvRow struct {
	record []string
	index  map[string]int
}

func (r csvRow) get(col string) string {
	if i, ok := r.index[col]; ok && i < len(r.record) {
		return strings.TrimSpace(r.record[i])
	}
	return ""
}

// unsigned parses a decimal or 0x prefixed hex column. Empty cells yield
// def.
func (r csvRow) unsigned(col string, bits int, def uint64) (uint64, error) {
	s := r.get(col)
	if s == "" {
		return def, nil
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, err := strconv.ParseUint(s, base, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", col, err)
	}
	return v, nil
}

func (r csvRow) required(col string, bits int) (uint64, error) {
	if r.get(col) == "" {
		return 0, fmt.Errorf("%s is required", col)
	}
	return r.unsigned(col, bits, 0)
}

func parseRow(row csvRow) (Register, error) {
	reg := Register{
		UUID:      row.get("uuid"),
		Tag:       row.get("tag"),
		Alias:     row.get("alias"),
		DataType:  row.get("dataType"),
		ByteOrder: row.get("byteOrder"),
	}
	if reg.UUID == "" {
		reg.UUID = uuid.NewString()
	}
	if reg.Tag == "" {
		return reg, fmt.Errorf("tag is required")
	}
	if reg.DataType == "" {
		return reg, fmt.Errorf("dataType is required")
	}
	if reg.ByteOrder == "" {
		reg.ByteOrder = defaultByteOrder
	}

	unitID, err := row.required("unitId", 8)
	if err != nil {
		return reg, err
	}
	function, err := row.required("function", 8)
	if err != nil {
		return reg, err
	}
	address, err := row.required("address", 16)
	if err != nil {
		return reg, err
	}
	quantity, err := row.unsigned("quantity", 16, 0)
	if err != nil {
		return reg, err
	}
	bitPosition, err := row.unsigned("bitPosition", 16, 0)
	if err != nil {
		return reg, err
	}
	bitMask, err := row.unsigned("bitMask", 16, defaultBitMask)
	if err != nil {
		return reg, err
	}
	frequency, err := row.unsigned("frequency", 64, defaultFrequency)
	if err != nil {
		return reg, err
	}
	reg.UnitID, reg.Function = uint8(unitID), uint8(function)
	reg.Address, reg.Quantity = uint16(address), uint16(quantity)
	reg.BitPosition, reg.BitMask = uint16(bitPosition), uint16(bitMask)
	reg.Frequency = frequency

	reg.Weight = defaultWeight
	if s := row.get("weight"); s != "" {
		if reg.Weight, err = strconv.ParseFloat(s, 64); err != nil {
			return reg, fmt.Errorf("invalid weight: %w", err)
		}
	}
	return reg, nil
}

// WriteCSV writes registers with the current column names.
func WriteCSV(w io.Writer, registers []Register) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range registers {
		record := []string{
			r.UUID,
			r.Tag,
			r.Alias,
			strconv.FormatUint(uint64(r.UnitID), 10),
			strconv.FormatUint(uint64(r.Function), 10),
			strconv.FormatUint(uint64(r.Address), 10),
			strconv.FormatUint(uint64(r.Quantity), 10),
			r.DataType,
			r.ByteOrder,
			strconv.FormatUint(uint64(r.BitPosition), 10),
			fmt.Sprintf("0x%04X", r.BitMask),
			strconv.FormatFloat(r.Weight, 'f', -1, 64),
			strconv.FormatUint(r.Frequency, 10),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write register %s: %w", r.Tag, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
