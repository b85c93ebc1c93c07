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

// Function codes issued by the master.
const (
	FuncCodeReadCoils                  uint8 = 0x01
	FuncCodeReadDiscreteInputs         uint8 = 0x02
	FuncCodeReadHoldingRegisters       uint8 = 0x03
	FuncCodeReadInputRegisters         uint8 = 0x04
	FuncCodeWriteSingleCoil            uint8 = 0x05
	FuncCodeWriteSingleRegister        uint8 = 0x06
	FuncCodeReadExceptionStatus        uint8 = 0x07
	FuncCodeWriteMultipleCoils         uint8 = 0x0F
	FuncCodeWriteMultipleRegisters     uint8 = 0x10
	FuncCodeMaskWriteRegister          uint8 = 0x16
	FuncCodeReadWriteMultipleRegisters uint8 = 0x17

	// exceptionBit is set in the function code of an exception reply.
	exceptionBit uint8 = 0x80
)

var functionNames = map[uint8]string{
	FuncCodeReadCoils:                  "read_coils",
	FuncCodeReadDiscreteInputs:         "read_discrete_inputs",
	FuncCodeReadHoldingRegisters:       "read_holding_registers",
	FuncCodeReadInputRegisters:         "read_input_registers",
	FuncCodeWriteSingleCoil:            "write_single_coil",
	FuncCodeWriteSingleRegister:        "write_single_register",
	FuncCodeReadExceptionStatus:        "read_exception_status",
	FuncCodeWriteMultipleCoils:         "write_multiple_coils",
	FuncCodeWriteMultipleRegisters:     "write_multiple_registers",
	FuncCodeMaskWriteRegister:          "mask_write_register",
	FuncCodeReadWriteMultipleRegisters: "read_write_multiple_registers",
}

// FunctionName returns a label for a function code. The exception bit is
// ignored; unknown codes are rendered in hex.
func FunctionName(functionCode uint8) string {
	if name, ok := functionNames[functionCode&^exceptionBit]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", functionCode&^exceptionBit)
}

// Per-request quantity limits from the Modbus application protocol.
const (
	MaxReadBits           = 2000
	MaxReadRegisters      = 125
	MaxWriteCoils         = 1968
	MaxWriteRegisters     = 123
	MaxReadWriteRegisters = 121 // write half of FC 0x17
)

// Unit identifiers.
const (
	DefaultIPUnitID     uint8 = 0 // used by MBAP links when none is configured
	DefaultSerialUnitID uint8 = 1
	MaxSerialUnitID     uint8 = 247
)

// Coil values on the wire.
const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// ModbusApi is the typed operation surface of a master bound to one unit.
// *Master implements it; the poller and tests depend on the interface.
type ModbusApi interface {
	UnitID() uint8
	ReadCoils(startAddress, quantity uint16) ([]bool, error)
	ReadDiscreteInputs(startAddress, quantity uint16) ([]bool, error)
	ReadHoldingRegisters(startAddress, quantity uint16) ([]uint16, error)
	ReadInputRegisters(startAddress, quantity uint16) ([]uint16, error)
	WriteSingleCoil(address uint16, value bool) error
	WriteSingleRegister(address, value uint16) error
	WriteMultipleCoils(startAddress uint16, values []bool) error
	WriteMultipleRegisters(startAddress uint16, values []uint16) error
	ReadWriteMultipleRegisters(readAddress, readQuantity, writeAddress uint16, values []uint16) ([]uint16, error)
}

var _ ModbusApi = (*Master)(nil)
