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

import "encoding/binary"

// ReadCoils reads quantity coils (FC 1) starting at startAddress.
func (m *Master) ReadCoils(startAddress, quantity uint16) ([]bool, error) {
	return m.readBits("ReadCoils", FuncCodeReadCoils, startAddress, quantity)
}

// ReadDiscreteInputs reads quantity discrete inputs (FC 2).
func (m *Master) ReadDiscreteInputs(startAddress, quantity uint16) ([]bool, error) {
	return m.readBits("ReadDiscreteInputs", FuncCodeReadDiscreteInputs, startAddress, quantity)
}

// ReadHoldingRegisters reads quantity holding registers (FC 3).
func (m *Master) ReadHoldingRegisters(startAddress, quantity uint16) ([]uint16, error) {
	return m.readRegisters("ReadHoldingRegisters", FuncCodeReadHoldingRegisters, startAddress, quantity)
}

// ReadInputRegisters reads quantity input registers (FC 4).
func (m *Master) ReadInputRegisters(startAddress, quantity uint16) ([]uint16, error) {
	return m.readRegisters("ReadInputRegisters", FuncCodeReadInputRegisters, startAddress, quantity)
}

func (m *Master) readBits(op string, functionCode uint8, startAddress, quantity uint16) ([]bool, error) {
	if err := checkRange(op, startAddress, quantity, MaxReadBits); err != nil {
		return nil, err
	}
	resp, err := m.transact(op, functionCode, uint16Bytes(startAddress, quantity))
	if err != nil {
		return nil, err
	}
	return decodeBits(op, resp, quantity)
}

func (m *Master) readRegisters(op string, functionCode uint8, startAddress, quantity uint16) ([]uint16, error) {
	if err := checkRange(op, startAddress, quantity, MaxReadRegisters); err != nil {
		return nil, err
	}
	resp, err := m.transact(op, functionCode, uint16Bytes(startAddress, quantity))
	if err != nil {
		return nil, err
	}
	return decodeRegisters(op, resp, quantity)
}

// WriteSingleCoil sets one coil (FC 5). true is sent as 0xFF00.
func (m *Master) WriteSingleCoil(address uint16, value bool) error {
	const op = "WriteSingleCoil"
	v := coilOff
	if value {
		v = coilOn
	}
	req := uint16Bytes(address, v)
	resp, err := m.transact(op, FuncCodeWriteSingleCoil, req)
	if err != nil {
		return err
	}
	return checkEcho(op, resp, req)
}

// WriteSingleRegister writes one holding register (FC 6).
func (m *Master) WriteSingleRegister(address, value uint16) error {
	const op = "WriteSingleRegister"
	req := uint16Bytes(address, value)
	resp, err := m.transact(op, FuncCodeWriteSingleRegister, req)
	if err != nil {
		return err
	}
	return checkEcho(op, resp, req)
}

// WriteMultipleCoils writes len(values) coils (FC 15), at most 1968.
func (m *Master) WriteMultipleCoils(startAddress uint16, values []bool) error {
	const op = "WriteMultipleCoils"
	if err := checkWriteLength(op, startAddress, len(values), MaxWriteCoils); err != nil {
		return err
	}
	packed := packBits(values)
	req := make([]byte, 5, 5+len(packed))
	binary.BigEndian.PutUint16(req[0:], startAddress)
	binary.BigEndian.PutUint16(req[2:], uint16(len(values)))
	req[4] = byte(len(packed))
	req = append(req, packed...)

	resp, err := m.transact(op, FuncCodeWriteMultipleCoils, req)
	if err != nil {
		return err
	}
	return checkEcho(op, resp, req[:4])
}

// WriteMultipleRegisters writes len(values) holding registers (FC 16), at
// most 123.
func (m *Master) WriteMultipleRegisters(startAddress uint16, values []uint16) error {
	const op = "WriteMultipleRegisters"
	if err := checkWriteLength(op, startAddress, len(values), MaxWriteRegisters); err != nil {
		return err
	}
	req := make([]byte, 5, 5+2*len(values))
	binary.BigEndian.PutUint16(req[0:], startAddress)
	binary.BigEndian.PutUint16(req[2:], uint16(len(values)))
	req[4] = byte(2 * len(values))
	req = append(req, uint16Bytes(values...)...)

	resp, err := m.transact(op, FuncCodeWriteMultipleRegisters, req)
	if err != nil {
		return err
	}
	return checkEcho(op, resp, req[:4])
}

// ReadWriteMultipleRegisters writes values at writeAddress and then reads
// readQuantity registers from readAddress in one exchange (FC 23). The
// device applies the write before the read.
func (m *Master) ReadWriteMultipleRegisters(readAddress, readQuantity, writeAddress uint16, values []uint16) ([]uint16, error) {
	const op = "ReadWriteMultipleRegisters"
	if err := checkRange(op, readAddress, readQuantity, MaxReadRegisters); err != nil {
		return nil, err
	}
	if err := checkWriteLength(op, writeAddress, len(values), MaxReadWriteRegisters); err != nil {
		return nil, err
	}
	req := make([]byte, 9, 9+2*len(values))
	binary.BigEndian.PutUint16(req[0:], readAddress)
	binary.BigEndian.PutUint16(req[2:], readQuantity)
	binary.BigEndian.PutUint16(req[4:], writeAddress)
	binary.BigEndian.PutUint16(req[6:], uint16(len(values)))
	req[8] = byte(2 * len(values))
	req = append(req, uint16Bytes(values...)...)

	resp, err := m.transact(op, FuncCodeReadWriteMultipleRegisters, req)
	if err != nil {
		return nil, err
	}
	return decodeRegisters(op, resp, readQuantity)
}

// ReadExceptionStatus reads the eight exception status outputs (FC 7).
func (m *Master) ReadExceptionStatus() (uint8, error) {
	const op = "ReadExceptionStatus"
	resp, err := m.transact(op, FuncCodeReadExceptionStatus, nil)
	if err != nil {
		return 0, err
	}
	if len(resp) != 1 {
		return 0, malformed(op, "status response has %d bytes, want 1", len(resp))
	}
	return resp[0], nil
}

// MaskWriteRegister sets a holding register to
// (current AND andMask) OR (orMask AND NOT andMask) on the device (FC 22).
func (m *Master) MaskWriteRegister(address, andMask, orMask uint16) error {
	const op = "MaskWriteRegister"
	req := uint16Bytes(address, andMask, orMask)
	resp, err := m.transact(op, FuncCodeMaskWriteRegister, req)
	if err != nil {
		return err
	}
	return checkEcho(op, resp, req)
}

// ExecuteCustom sends a raw PDU payload under functionCode and returns the
// reply payload unchecked. Exception replies are still classified.
func (m *Master) ExecuteCustom(functionCode uint8, payload []byte) ([]byte, error) {
	const op = "ExecuteCustom"
	if functionCode == 0 || functionCode&exceptionBit != 0 {
		return nil, invalidArgument(op, "function code 0x%02X is not a request code", functionCode)
	}
	if len(payload)+1 > MaxPDULength {
		return nil, invalidArgument(op, "payload of %d bytes does not fit a PDU", len(payload))
	}
	return m.transact(op, functionCode, payload)
}
