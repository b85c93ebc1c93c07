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

// ModbusTransporter performs one request/response exchange with a unit.
//
// Transact sends functionCode with payload to unitID and returns the reply
// payload (the PDU without its function code). An exception reply is
// returned as a *ModbusError; every other failure is a plain error.
type ModbusTransporter interface {
	Transact(unitID, functionCode uint8, payload []byte) ([]byte, error)
	Mode() string
}

const (
	// MaxPDULength is the largest PDU any framing may carry.
	MaxPDULength = 253
)

// buildPDU prefixes payload with its function code.
func buildPDU(functionCode uint8, payload []byte) ([]byte, error) {
	if len(payload)+1 > MaxPDULength {
		return nil, fmt.Errorf("PDU length %d exceeds maximum %d bytes", len(payload)+1, MaxPDULength)
	}
	pdu := make([]byte, 1+len(payload))
	pdu[0] = functionCode
	copy(pdu[1:], payload)
	return pdu, nil
}

// responsePayload checks the reply PDU against the request function code
// and strips it.
func responsePayload(functionCode uint8, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("empty response PDU")
	}
	switch pdu[0] {
	case functionCode:
		return pdu[1:], nil
	case functionCode | exceptionBit:
		if len(pdu) < 2 {
			return nil, fmt.Errorf("exception reply for func %02X without exception code", functionCode)
		}
		return nil, &ModbusError{FunctionCode: functionCode, ExceptionCode: ExceptionCode(pdu[1])}
	default:
		return nil, fmt.Errorf("function code mismatch: sent %02X, received %02X", functionCode, pdu[0])
	}
}
