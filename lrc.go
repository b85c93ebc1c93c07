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

// lrc accumulates the longitudinal redundancy check of Modbus ASCII: the
// two's complement of the 8-bit sum of all bytes.
type lrc struct {
	sum uint8
}

func (l *lrc) reset() *lrc {
	l.sum = 0
	return l
}

func (l *lrc) pushByte(b byte) *lrc {
	l.sum += b
	return l
}

func (l *lrc) pushBytes(data []byte) *lrc {
	for _, b := range data {
		l.sum += b
	}
	return l
}

func (l *lrc) value() byte {
	return -l.sum
}
