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
	"fmt"
	"sync"

	gbmodbus "github.com/goburrow/modbus"
	gbserial "github.com/goburrow/serial"
)

// GoburrowTransporter frames requests with a github.com/goburrow/modbus
// client handler instead of the built-in packagers. The handler owns its
// connection and dials it lazily on the first exchange.
type GoburrowTransporter struct {
	handler gbmodbus.ClientHandler
	setUnit func(uint8)
	mode    string
	mu      sync.Mutex
}

// NewGoburrowTCPTransporter wraps a TCP client handler. The handler's
// SlaveId is overwritten on every exchange.
func NewGoburrowTCPTransporter(h *gbmodbus.TCPClientHandler) *GoburrowTransporter {
	return &GoburrowTransporter{
		handler: h,
		setUnit: func(id uint8) { h.SlaveId = id },
		mode:    "goburrow-tcp",
	}
}

// NewGoburrowRTUTransporter builds an RTU client handler for the serial
// line described by config. Zero fields stay zero on the handler and are
// defaulted by goburrow/serial when the port opens (19200 baud, 8E1).
func NewGoburrowRTUTransporter(config gbserial.Config) *GoburrowTransporter {
	h := gbmodbus.NewRTUClientHandler(config.Address)
	if config.BaudRate != 0 {
		h.BaudRate = config.BaudRate
	}
	if config.DataBits != 0 {
		h.DataBits = config.DataBits
	}
	if config.StopBits != 0 {
		h.StopBits = config.StopBits
	}
	if config.Parity != "" {
		h.Parity = config.Parity
	}
	if config.Timeout != 0 {
		h.Timeout = config.Timeout
	}
	return &GoburrowTransporter{
		handler: h,
		setUnit: func(id uint8) { h.SlaveId = id },
		mode:    "goburrow-rtu",
	}
}

func (t *GoburrowTransporter) Mode() string { return t.mode }

func (t *GoburrowTransporter) Transact(unitID, functionCode uint8, payload []byte) ([]byte, error) {
	if len(payload)+1 > MaxPDULength {
		return nil, fmt.Errorf("PDU length %d exceeds maximum %d bytes", len(payload)+1, MaxPDULength)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.setUnit(unitID)
	request := gbmodbus.ProtocolDataUnit{FunctionCode: functionCode, Data: payload}
	aduRequest, err := t.handler.Encode(&request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	aduResponse, err := t.handler.Send(aduRequest)
	if err != nil {
		return nil, err
	}
	if err = t.handler.Verify(aduRequest, aduResponse); err != nil {
		return nil, err
	}
	response, err := t.handler.Decode(aduResponse)
	if err != nil {
		return nil, err
	}
	pdu := make([]byte, 1+len(response.Data))
	pdu[0] = response.FunctionCode
	copy(pdu[1:], response.Data)
	return responsePayload(functionCode, pdu)
}

// Close releases the handler's connection.
func (t *GoburrowTransporter) Close() error {
	if c, ok := t.handler.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
