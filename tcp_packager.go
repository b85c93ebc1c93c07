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
	"encoding/binary"
	"fmt"
)

const (
	// TCPHeaderLength is the size of the MBAP header including the unit id.
	TCPHeaderLength = 7
	// MaxTCPFrameLength is the MBAP header plus the largest PDU.
	MaxTCPFrameLength = TCPHeaderLength + MaxPDULength
	// ProtocolIdentifierTCP is the only protocol id defined for MBAP.
	ProtocolIdentifierTCP uint16 = 0x0000
)

// TCPPackager encodes and decodes MBAP frames.
type TCPPackager struct{}

func NewTCPPackager() *TCPPackager {
	return &TCPPackager{}
}

// Pack builds transaction id, protocol id, length and unit id followed by
// the PDU. Length counts the unit id and the PDU.
func (p *TCPPackager) Pack(transactionID uint16, unitID uint8, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("PDU cannot be empty")
	}
	if len(pdu) > MaxPDULength {
		return nil, fmt.Errorf("PDU length %d exceeds maximum %d bytes", len(pdu), MaxPDULength)
	}
	frame := make([]byte, TCPHeaderLength+len(pdu))
	binary.BigEndian.PutUint16(frame[0:], transactionID)
	binary.BigEndian.PutUint16(frame[2:], ProtocolIdentifierTCP)
	binary.BigEndian.PutUint16(frame[4:], uint16(len(pdu)+1))
	frame[6] = unitID
	copy(frame[TCPHeaderLength:], pdu)
	return frame, nil
}

// ParseHeader validates an MBAP header and returns the number of PDU bytes
// that follow it.
func (p *TCPPackager) ParseHeader(header []byte) (transactionID uint16, unitID uint8, pduLength int, err error) {
	if len(header) < TCPHeaderLength {
		err = fmt.Errorf("invalid MBAP header length: %d bytes, minimum required: %d bytes", len(header), TCPHeaderLength)
		return
	}
	transactionID = binary.BigEndian.Uint16(header[0:])
	if protocolID := binary.BigEndian.Uint16(header[2:]); protocolID != ProtocolIdentifierTCP {
		err = fmt.Errorf("invalid protocol identifier: 0x%04X, expected 0x%04X", protocolID, ProtocolIdentifierTCP)
		return
	}
	length := int(binary.BigEndian.Uint16(header[4:]))
	if length < 2 || length > MaxPDULength+1 {
		err = fmt.Errorf("invalid length field: %d", length)
		return
	}
	unitID = header[6]
	pduLength = length - 1
	return
}

// Unpack splits a complete MBAP frame.
func (p *TCPPackager) Unpack(frame []byte) (transactionID uint16, unitID uint8, pdu []byte, err error) {
	if len(frame) > MaxTCPFrameLength {
		err = fmt.Errorf("TCP frame length %d exceeds maximum %d bytes", len(frame), MaxTCPFrameLength)
		return
	}
	var pduLength int
	transactionID, unitID, pduLength, err = p.ParseHeader(frame)
	if err != nil {
		return
	}
	if len(frame)-TCPHeaderLength != pduLength {
		err = fmt.Errorf("length field mismatch: header indicates %d PDU bytes, frame has %d", pduLength, len(frame)-TCPHeaderLength)
		return
	}
	pdu = frame[TCPHeaderLength:]
	return
}
