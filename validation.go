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

package modbus

import (
	"bytes"
	"encoding/binary"
	"reflect"
)

// checkRange enforces 1 <= quantity <= max and that the last address does
// not pass 0xFFFF.
func checkRange(op string, start, quantity uint16, max uint16) error {
	if quantity == 0 || quantity > max {
		return invalidRange(op, "quantity %d out of range 1..%d", quantity, max)
	}
	if uint32(start)+uint32(quantity)-1 > 0xFFFF {
		return invalidRange(op, "start address %d with quantity %d runs past 0xFFFF", start, quantity)
	}
	return nil
}

// checkWriteLength is checkRange for value slices, whose length may not
// even fit a uint16.
func checkWriteLength(op string, start uint16, n int, max uint16) error {
	if n == 0 || n > int(max) {
		return invalidRange(op, "quantity %d out of range 1..%d", n, max)
	}
	return checkRange(op, start, uint16(n), max)
}

// checkSerialUnit rejects the broadcast address and the reserved range on
// serial framings.
func checkSerialUnit(op string, unitID uint8) error {
	if unitID == 0 {
		return invalidArgument(op, "unit id 0 is broadcast and gets no reply on a serial line")
	}
	if unitID > MaxSerialUnitID {
		return invalidArgument(op, "unit id %d out of range 1..%d", unitID, MaxSerialUnitID)
	}
	return nil
}

// isNil also catches typed nil pointers stored in an interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// decodeBits unpacks a byte-count prefixed bit field into exactly quantity
// values, least significant bit first.
func decodeBits(op string, payload []byte, quantity uint16) ([]bool, error) {
	want := (int(quantity) + 7) / 8
	if len(payload) < 1 || int(payload[0]) != want || len(payload) != 1+want {
		return nil, malformed(op, "bit response: byte count %v, payload %d bytes, want %d data bytes", firstByte(payload), len(payload), want)
	}
	values := make([]bool, quantity)
	for i := range values {
		values[i] = payload[1+i/8]&(1<<(uint(i)%8)) != 0
	}
	return values, nil
}

// decodeRegisters unpacks a byte-count prefixed register block into exactly
// quantity big-endian values.
func decodeRegisters(op string, payload []byte, quantity uint16) ([]uint16, error) {
	want := 2 * int(quantity)
	if len(payload) < 1 || int(payload[0]) != want || len(payload) != 1+want {
		return nil, malformed(op, "register response: byte count %v, payload %d bytes, want %d data bytes", firstByte(payload), len(payload), want)
	}
	values := make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(payload[1+2*i:])
	}
	return values, nil
}

// checkEcho verifies that a write reply repeats the request fields.
func checkEcho(op string, payload, want []byte) error {
	if !bytes.Equal(payload, want) {
		return malformed(op, "echo mismatch: sent % X, received % X", want, payload)
	}
	return nil
}

func firstByte(b []byte) any {
	if len(b) == 0 {
		return "missing"
	}
	return b[0]
}

// packBits is the inverse of decodeBits without the byte count.
func packBits(values []bool) []byte {
	out := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}

func uint16Bytes(values ...uint16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(out[2*i:], v)
	}
	return out
}
