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
	"encoding/hex"
	"fmt"
)

const (
	asciiStart = ':'
	asciiEnd   = "\r\n"
	// MaxASCIIFrameLength is start, hex-encoded unit id, PDU and LRC, and CRLF.
	MaxASCIIFrameLength = 1 + 2*(1+MaxPDULength+1) + 2
)

// ASCIIPackager builds and checks Modbus ASCII frames.
type ASCIIPackager struct{}

func NewASCIIPackager() *ASCIIPackager {
	return &ASCIIPackager{}
}

func (p *ASCIIPackager) Pack(unitID uint8, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("PDU cannot be empty")
	}
	if len(pdu) > MaxPDULength {
		return nil, fmt.Errorf("PDU too long: %d bytes (max %d)", len(pdu), MaxPDULength)
	}
	var sum lrc
	sum.reset().pushByte(unitID).pushBytes(pdu)

	raw := make([]byte, 0, len(pdu)+2)
	raw = append(raw, unitID)
	raw = append(raw, pdu...)
	raw = append(raw, sum.value())

	frame := make([]byte, 0, 1+2*len(raw)+2)
	frame = append(frame, asciiStart)
	frame = append(frame, bytes.ToUpper([]byte(hex.EncodeToString(raw)))...)
	frame = append(frame, asciiEnd...)
	return frame, nil
}

// Unpack decodes a frame including its start and end markers and verifies
// the LRC.
func (p *ASCIIPackager) Unpack(frame []byte) (uint8, []byte, error) {
	if len(frame) < 9 {
		return 0, nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	if frame[0] != asciiStart {
		return 0, nil, fmt.Errorf("invalid start character: %q", frame[0])
	}
	if !bytes.HasSuffix(frame, []byte(asciiEnd)) {
		return 0, nil, fmt.Errorf("missing CR LF terminator")
	}
	body := frame[1 : len(frame)-len(asciiEnd)]
	if len(body)%2 != 0 {
		return 0, nil, fmt.Errorf("odd number of hex characters: %d", len(body))
	}
	raw := make([]byte, len(body)/2)
	if _, err := hex.Decode(raw, body); err != nil {
		return 0, nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	n := len(raw) - 1
	var sum lrc
	if calculated := sum.reset().pushBytes(raw[:n]).value(); calculated != raw[n] {
		return 0, nil, fmt.Errorf("LRC mismatch: calculated=0x%02X, received=0x%02X", calculated, raw[n])
	}
	return raw[0], raw[1:n], nil
}
