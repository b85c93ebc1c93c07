package modbus

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
)

// deviceDouble is an in-memory slave. It answers PDUs directly as a
// ModbusTransporter and backs the framed slaves below.
type deviceDouble struct {
	mu        sync.Mutex
	coils     []bool
	discrete  []bool
	holding   []uint16
	input     []uint16
	status    uint8
	exception ExceptionCode // when set, every request fails with it
	calls     int
	lastUnit  uint8
}

func newDeviceDouble() *deviceDouble {
	return &deviceDouble{
		coils:    make([]bool, 0x10000),
		discrete: make([]bool, 0x10000),
		holding:  make([]uint16, 0x10000),
		input:    make([]uint16, 0x10000),
	}
}

func (d *deviceDouble) Mode() string { return "double" }

func (d *deviceDouble) Transact(unitID, functionCode uint8, payload []byte) ([]byte, error) {
	pdu := append([]byte{functionCode}, payload...)
	return responsePayload(functionCode, d.handle(unitID, pdu))
}

func (d *deviceDouble) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *deviceDouble) LastUnit() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastUnit
}

// handle returns the reply PDU for a request PDU.
func (d *deviceDouble) handle(unitID uint8, pdu []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.lastUnit = unitID

	fc, data := pdu[0], pdu[1:]
	exception := func(code ExceptionCode) []byte {
		return []byte{fc | exceptionBit, byte(code)}
	}
	if d.exception != 0 {
		return exception(d.exception)
	}
	u16 := func(i int) int { return int(binary.BigEndian.Uint16(data[i:])) }

	switch fc {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		src := d.coils
		if fc == FuncCodeReadDiscreteInputs {
			src = d.discrete
		}
		addr, qty := u16(0), u16(2)
		packed := packBits(src[addr : addr+qty])
		return append([]byte{fc, byte(len(packed))}, packed...)
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		src := d.holding
		if fc == FuncCodeReadInputRegisters {
			src = d.input
		}
		addr, qty := u16(0), u16(2)
		return append([]byte{fc, byte(2 * qty)}, uint16Bytes(src[addr:addr+qty]...)...)
	case FuncCodeWriteSingleCoil:
		switch uint16(u16(2)) {
		case coilOn:
			d.coils[u16(0)] = true
		case coilOff:
			d.coils[u16(0)] = false
		default:
			return exception(ExceptionIllegalDataValue)
		}
		return pdu
	case FuncCodeWriteSingleRegister:
		d.holding[u16(0)] = uint16(u16(2))
		return pdu
	case FuncCodeReadExceptionStatus:
		return []byte{fc, d.status}
	case FuncCodeWriteMultipleCoils:
		addr, qty := u16(0), u16(2)
		for i := 0; i < qty; i++ {
			d.coils[addr+i] = data[5+i/8]&(1<<(uint(i)%8)) != 0
		}
		return pdu[:5]
	case FuncCodeWriteMultipleRegisters:
		addr, qty := u16(0), u16(2)
		for i := 0; i < qty; i++ {
			d.holding[addr+i] = binary.BigEndian.Uint16(data[5+2*i:])
		}
		return pdu[:5]
	case FuncCodeMaskWriteRegister:
		addr, and, or := u16(0), uint16(u16(2)), uint16(u16(4))
		d.holding[addr] = (d.holding[addr] & and) | (or &^ and)
		return pdu
	case FuncCodeReadWriteMultipleRegisters:
		rAddr, rQty, wAddr, wQty := u16(0), u16(2), u16(4), u16(6)
		for i := 0; i < wQty; i++ {
			d.holding[wAddr+i] = binary.BigEndian.Uint16(data[9+2*i:])
		}
		return append([]byte{fc, byte(2 * rQty)}, uint16Bytes(d.holding[rAddr:rAddr+rQty]...)...)
	default:
		return exception(ExceptionIllegalFunction)
	}
}

// serveMBAP answers MBAP requests on conn until it is closed.
func serveMBAP(conn net.Conn, d *deviceDouble) {
	p := NewTCPPackager()
	header := make([]byte, TCPHeaderLength)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		txID, unitID, n, err := p.ParseHeader(header)
		if err != nil {
			return
		}
		pdu := make([]byte, n)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}
		frame, _ := p.Pack(txID, unitID, d.handle(unitID, pdu))
		if _, err := conn.Write(frame); err != nil {
			return
		}
	}
}

// rtuRequestLength derives the length of a request frame from its first
// seven bytes.
func rtuRequestLength(head []byte) int {
	switch head[1] {
	case FuncCodeReadExceptionStatus:
		return 4
	case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		return 7 + int(head[6]) + 2
	case FuncCodeMaskWriteRegister:
		return 10
	default:
		return 8
	}
}

// serveRTU answers RTU requests on conn until it is closed.
func serveRTU(conn net.Conn, d *deviceDouble) {
	p := NewRTUPackager()
	buf := make([]byte, MaxRTUFrameLength)
	for {
		if _, err := io.ReadFull(conn, buf[:4]); err != nil {
			return
		}
		have, n := 4, 4
		if buf[1] != FuncCodeReadExceptionStatus {
			if _, err := io.ReadFull(conn, buf[4:7]); err != nil {
				return
			}
			have, n = 7, rtuRequestLength(buf[:7])
			if buf[1] == FuncCodeReadWriteMultipleRegisters {
				if _, err := io.ReadFull(conn, buf[7:11]); err != nil {
					return
				}
				have, n = 11, 11+int(buf[10])+2
			}
			if _, err := io.ReadFull(conn, buf[have:n]); err != nil {
				return
			}
		}
		unitID, pdu, err := p.Unpack(buf[:n])
		if err != nil {
			return
		}
		frame, _ := p.Pack(unitID, d.handle(unitID, pdu))
		if _, err := conn.Write(frame); err != nil {
			return
		}
	}
}

// serveASCII answers ASCII requests on conn until it is closed.
func serveASCII(conn net.Conn, d *deviceDouble) {
	p := NewASCIIPackager()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return
		}
		unitID, pdu, err := p.Unpack(line)
		if err != nil {
			return
		}
		frame, _ := p.Pack(unitID, d.handle(unitID, pdu))
		if _, err := conn.Write(frame); err != nil {
			return
		}
	}
}

// countingTransporter counts exchanges passed to the wrapped transporter.
type countingTransporter struct {
	ModbusTransporter
	mu    sync.Mutex
	calls int
}

func (c *countingTransporter) Transact(unitID, functionCode uint8, payload []byte) ([]byte, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.ModbusTransporter.Transact(unitID, functionCode, payload)
}

// recordingLink fails every read and counts all I/O.
type recordingLink struct {
	reads, writes int
}

func (r *recordingLink) Read(p []byte) (int, error) {
	r.reads++
	return 0, io.EOF
}

func (r *recordingLink) Write(p []byte) (int, error) {
	r.writes++
	return len(p), nil
}

// scriptedTransporter returns a fixed reply for every exchange.
type scriptedTransporter struct {
	mode  string
	reply []byte
	err   error
}

func (s scriptedTransporter) Mode() string { return s.mode }

func (s scriptedTransporter) Transact(uint8, uint8, []byte) ([]byte, error) {
	return s.reply, s.err
}
