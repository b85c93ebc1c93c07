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
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	modbus "github.com/hootrhino/modbusmaster"
)

// Register status values
const (
	StatusValid         = "VALID:OK"
	statusInvalidPrefix = "INVALID:"
)

// Register describes one value polled from a unit.
//
// Bit functions (1 and 2) store one byte per bit in Value. Register
// functions (3 and 4) store the registers big endian, two bytes each.
type Register struct {
	UUID        string  `json:"uuid" yaml:"uuid"`
	Tag         string  `json:"tag" yaml:"tag"`
	Alias       string  `json:"alias,omitempty" yaml:"alias,omitempty"`
	UnitID      uint8   `json:"unitId" yaml:"unitId"`
	Function    uint8   `json:"function" yaml:"function"`
	Address     uint16  `json:"address" yaml:"address"`
	Quantity    uint16  `json:"quantity" yaml:"quantity"`
	DataType    string  `json:"dataType" yaml:"dataType"`   // uint16, float32[4], string, bool ...
	ByteOrder   string  `json:"byteOrder" yaml:"byteOrder"` // ABCD, DCBA, BADC, CDAB ...
	BitPosition uint16  `json:"bitPosition" yaml:"bitPosition"`
	BitMask     uint16  `json:"bitMask" yaml:"bitMask"`
	Weight      float64 `json:"weight" yaml:"weight"`
	Frequency   uint64  `json:"frequency" yaml:"frequency"` // milliseconds
	Value       []byte  `json:"value,omitempty" yaml:"-"`
	Status      string  `json:"status,omitempty" yaml:"status,omitempty"`
}

var arrayTypePattern = regexp.MustCompile(`^(\w+)\[(\d+)\]$`)

// elementSizes maps a base type to its width in bytes. Strings have no
// fixed width.
var elementSizes = map[string]int{
	"byte": 1, "uint8": 1, "int8": 1,
	"bool": 2, "bitfield": 2, "uint16": 2, "int16": 2,
	"uint32": 4, "int32": 4, "float32": 4,
	"uint64": 8, "int64": 8, "float64": 8,
	"string": 0,
}

// byteOrders maps an order name to the source index of every output byte.
var byteOrders = map[string][]int{
	"A":        {0},
	"AB":       {0, 1},
	"BA":       {1, 0},
	"ABCD":     {0, 1, 2, 3},
	"DCBA":     {3, 2, 1, 0},
	"BADC":     {1, 0, 3, 2},
	"CDAB":     {2, 3, 0, 1},
	"ABCDEFGH": {0, 1, 2, 3, 4, 5, 6, 7},
	"HGFEDCBA": {7, 6, 5, 4, 3, 2, 1, 0},
	"BADCFEHG": {1, 0, 3, 2, 5, 4, 7, 6},
	"GHEFCDAB": {6, 7, 4, 5, 2, 3, 0, 1},
}

type dataType struct {
	base  string
	count int // 0 means fill the read quantity
	array bool
}

func parseDataType(s string) (dataType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return dataType{}, fmt.Errorf("empty data type")
	}
	dt := dataType{base: s, count: 1}
	if strings.ContainsAny(s, "[]") {
		m := arrayTypePattern.FindStringSubmatch(s)
		if m == nil {
			return dataType{}, fmt.Errorf("invalid array type %q (expected type[count])", s)
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return dataType{}, fmt.Errorf("invalid array length in %q: %w", s, err)
		}
		dt = dataType{base: m[1], count: n, array: true}
	}
	if _, ok := elementSizes[dt.base]; !ok {
		return dataType{}, fmt.Errorf("unknown data type: %s", dt.base)
	}
	return dt, nil
}

func isBitFunction(fc uint8) bool {
	return fc == modbus.FuncCodeReadCoils || fc == modbus.FuncCodeReadDiscreteInputs
}

func maxQuantity(fc uint8) uint16 {
	if isBitFunction(fc) {
		return modbus.MaxReadBits
	}
	return modbus.MaxReadRegisters
}

// ResolveQuantity fills Quantity from DataType when it is zero.
func (r *Register) ResolveQuantity() error {
	if r.Quantity != 0 {
		return nil
	}
	dt, err := parseDataType(r.DataType)
	if err != nil {
		return err
	}
	if isBitFunction(r.Function) {
		if dt.base != "bool" {
			return fmt.Errorf("function %d reads bits, data type %s is not bool", r.Function, r.DataType)
		}
		if dt.count == 0 {
			return fmt.Errorf("bool[0] needs an explicit quantity")
		}
		r.Quantity = uint16(dt.count)
		return nil
	}
	size := elementSizes[dt.base]
	if size == 0 || dt.count == 0 {
		return fmt.Errorf("%s needs an explicit quantity", r.DataType)
	}
	r.Quantity = uint16((size*dt.count + 1) / 2)
	return nil
}

// Validate checks the register can be polled as described.
func (r *Register) Validate() error {
	if r.Tag == "" {
		return fmt.Errorf("register tag is required")
	}
	switch r.Function {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
	default:
		return fmt.Errorf("register %s: function %d cannot be polled", r.Tag, r.Function)
	}
	if _, err := parseDataType(r.DataType); err != nil {
		return fmt.Errorf("register %s: %w", r.Tag, err)
	}
	if err := r.ResolveQuantity(); err != nil {
		return fmt.Errorf("register %s: %w", r.Tag, err)
	}
	if limit := maxQuantity(r.Function); r.Quantity > limit {
		return fmt.Errorf("register %s: quantity %d exceeds %d", r.Tag, r.Quantity, limit)
	}
	if uint32(r.Address)+uint32(r.Quantity)-1 > 0xFFFF {
		return fmt.Errorf("register %s: address %d with quantity %d runs past 0xFFFF", r.Tag, r.Address, r.Quantity)
	}
	if r.ByteOrder != "" {
		if _, ok := byteOrders[r.ByteOrder]; !ok {
			return fmt.Errorf("register %s: unknown byte order %s", r.Tag, r.ByteOrder)
		}
	}
	if r.BitPosition > 15 {
		return fmt.Errorf("register %s: bit position %d out of range 0..15", r.Tag, r.BitPosition)
	}
	return nil
}

// reorder applies a named byte order to one element. An order whose width
// differs from the element is ignored.
func reorder(data []byte, order string) []byte {
	perm, ok := byteOrders[order]
	if !ok || len(perm) != len(data) {
		return data
	}
	out := make([]byte, len(data))
	for i, src := range perm {
		out[i] = data[src]
	}
	return out
}

// CheckBit reports whether bit index of num is set.
func CheckBit(num uint16, index uint16) bool {
	return index < 16 && num&(1<<index) != 0
}

// DecodedValue is a register value in raw, numeric and typed form.
type DecodedValue struct {
	Raw     []byte  `json:"raw" yaml:"-"`
	Float64 float64 `json:"float64" yaml:"float64"`
	Type    string  `json:"type" yaml:"type"`
	AsType  any     `json:"asType" yaml:"value"`
}

// Round returns Float64 rounded to places decimals.
func (dv DecodedValue) Round(places int) float64 {
	if places <= 0 {
		return dv.Float64
	}
	p := math.Pow(10, float64(places))
	return math.Round(dv.Float64*p) / p
}

func (dv DecodedValue) String() string {
	return fmt.Sprintf("Raw: % X, Float64: %f, AsType: %v", dv.Raw, dv.Float64, dv.AsType)
}

// Decode interprets Value according to DataType, ByteOrder and Weight.
// Arrays decode to typed slices and report the weighted sum in Float64.
// A zero weight counts as 1.
func (r Register) Decode() (DecodedValue, error) {
	result := DecodedValue{Raw: r.Value, Type: r.DataType}
	if len(r.Value) == 0 {
		return result, fmt.Errorf("empty value for register %s", r.Tag)
	}
	dt, err := parseDataType(r.DataType)
	if err != nil {
		return result, fmt.Errorf("register %s: %w", r.Tag, err)
	}
	weight := r.Weight
	if weight == 0 {
		weight = 1
	}

	if isBitFunction(r.Function) {
		return r.decodeBits(result, dt)
	}

	if (dt.base == "bool" || dt.base == "bitfield") && len(r.Value) < 2 {
		return result, fmt.Errorf("insufficient data for %s: have %d bytes, need 2", r.DataType, len(r.Value))
	}
	switch dt.base {
	case "string":
		return r.decodeString(result), nil
	case "bool":
		v := binary.BigEndian.Uint16(reorder(r.Value[:2], r.ByteOrder))
		return boolValue(result, CheckBit(v, r.BitPosition)), nil
	case "bitfield":
		v := binary.BigEndian.Uint16(reorder(r.Value[:2], r.ByteOrder)) & r.BitMask
		result.AsType = v
		result.Float64 = float64(v) * weight
		return result, nil
	}

	size := elementSizes[dt.base]
	if dt.count == 0 {
		dt.count = len(r.Value) / size
	}
	if dt.count == 0 || len(r.Value) < size*dt.count {
		return result, fmt.Errorf("insufficient data for %s: have %d bytes, need %d",
			r.DataType, len(r.Value), size*max(dt.count, 1))
	}

	be := binary.BigEndian
	switch dt.base {
	case "byte", "uint8":
		return decodeAs(result, r.Value, dt, r.ByteOrder, weight, 1, func(b []byte) uint8 { return b[0] }), nil
	case "int8":
		return decodeAs(result, r.Value, dt, r.ByteOrder, weight, 1, func(b []byte) int8 { return int8(b[0]) }), nil
	case "uint16":
		return decodeAs(result, r.Value, dt, r.ByteOrder, weight, 2, be.Uint16), nil
	case "int16":
		return decodeAs(result, r.Value, dt, r.ByteOrder, weight, 2, func(b []byte) int16 { return int16(be.Uint16(b)) }), nil
	case "uint32":
		return decodeAs(result, r.Value, dt, r.ByteOrder, weight, 4, be.Uint32), nil
	case "int32":
		return decodeAs(result, r.Value, dt, r.ByteOrder, weight, 4, func(b []byte) int32 { return int32(be.Uint32(b)) }), nil
	case "uint64":
		return decodeAs(result, r.Value, dt, r.ByteOrder, weight, 8, be.Uint64), nil
	case "int64":
		return decodeAs(result, r.Value, dt, r.ByteOrder, weight, 8, func(b []byte) int64 { return int64(be.Uint64(b)) }), nil
	case "float32":
		return decodeAs(result, r.Value, dt, r.ByteOrder, weight, 4, func(b []byte) float32 {
			return math.Float32frombits(be.Uint32(b))
		}), nil
	case "float64":
		return decodeAs(result, r.Value, dt, r.ByteOrder, weight, 8, func(b []byte) float64 {
			return math.Float64frombits(be.Uint64(b))
		}), nil
	}
	return result, fmt.Errorf("unsupported data type: %s", dt.base)
}

type number interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~uint64 | ~int64 | ~float32 | ~float64
}

func decodeAs[T number](result DecodedValue, raw []byte, dt dataType, order string, weight float64, size int, conv func([]byte) T) DecodedValue {
	values := make([]T, dt.count)
	var sum float64
	for i := range values {
		values[i] = conv(reorder(raw[i*size:(i+1)*size], order))
		sum += float64(values[i])
	}
	if dt.array {
		result.AsType = values
	} else {
		result.AsType = values[0]
	}
	result.Float64 = sum * weight
	return result
}

func (r Register) decodeBits(result DecodedValue, dt dataType) (DecodedValue, error) {
	if dt.base != "bool" {
		return result, fmt.Errorf("function %d reads bits, data type %s is not bool", r.Function, r.DataType)
	}
	if !dt.array {
		return boolValue(result, r.Value[0] != 0), nil
	}
	n := dt.count
	if n == 0 || n > len(r.Value) {
		n = len(r.Value)
	}
	bits := make([]bool, n)
	var set float64
	for i := range bits {
		if bits[i] = r.Value[i] != 0; bits[i] {
			set++
		}
	}
	result.AsType = bits
	result.Float64 = set
	return result, nil
}

// decodeString cuts at the first NUL and trims spaces. Order BA swaps the
// bytes of every register.
func (r Register) decodeString(result DecodedValue) DecodedValue {
	b := r.Value
	if r.ByteOrder == "BA" {
		b = make([]byte, len(r.Value))
		copy(b, r.Value)
		for i := 0; i+1 < len(b); i += 2 {
			b[i], b[i+1] = b[i+1], b[i]
		}
	}
	s := string(b)
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	result.AsType = strings.TrimSpace(s)
	return result
}

func boolValue(result DecodedValue, b bool) DecodedValue {
	result.AsType = b
	result.Float64 = 0
	if b {
		result.Float64 = 1
	}
	return result
}
