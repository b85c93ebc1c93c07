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

import "fmt"

const (
	rtuMinFrameLength = 4
	// MaxRTUFrameLength is unit id, largest PDU and CRC.
	MaxRTUFrameLength = 1 + MaxPDULength + 2
)

// RTUPackager builds and checks RTU frames: unit id, PDU, CRC low byte,
// CRC high byte.
type RTUPackager struct{}

func NewRTUPackager() *RTUPackager {
	return &RTUPackager{}
}

func (p *RTUPackager) Pack(unitID uint8, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("PDU cannot be empty")
	}
	if len(pdu) > MaxPDULength {
		return nil, fmt.Errorf("PDU too long: %d bytes (max %d)", len(pdu), MaxPDULength)
	}
	frame := make([]byte, 1+len(pdu)+2)
	frame[0] = unitID
	copy(frame[1:], pdu)
	crc := CRC16(frame[:len(frame)-2])
	frame[len(frame)-2] = byte(crc)
	frame[len(frame)-1] = byte(crc >> 8)
	return frame, nil
}

// Unpack verifies the CRC and returns unit id and a copy of the PDU.
func (p *RTUPackager) Unpack(frame []byte) (uint8, []byte, error) {
	if len(frame) < rtuMinFrameLength {
		return 0, nil, fmt.Errorf("frame too short: %d bytes (minimum %d)", len(frame), rtuMinFrameLength)
	}
	if len(frame) > MaxRTUFrameLength {
		return 0, nil, fmt.Errorf("frame too long: %d bytes (maximum %d)", len(frame), MaxRTUFrameLength)
	}
	n := len(frame) - 2
	calculated := CRC16(frame[:n])
	received := uint16(frame[n]) | uint16(frame[n+1])<<8
	if calculated != received {
		return 0, nil, fmt.Errorf("CRC mismatch: calculated=0x%04X, received=0x%04X", calculated, received)
	}
	pdu := make([]byte, n-1)
	copy(pdu, frame[1:n])
	return frame[0], pdu, nil
}

// VerifyCRC reports whether frame ends with a valid checksum.
func (p *RTUPackager) VerifyCRC(frame []byte) bool {
	if len(frame) < rtuMinFrameLength {
		return false
	}
	n := len(frame) - 2
	return CRC16(frame[:n]) == uint16(frame[n])|uint16(frame[n+1])<<8
}
