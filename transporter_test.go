package modbus

import (
	"io"
	"net"
	"testing"
	"time"
)

// exercise runs the full operation set against a master backed by d.
func exercise(t *testing.T, m *Master, d *deviceDouble) {
	t.Helper()
	if err := m.WriteSingleRegister(10, 0x1234); err != nil {
		t.Fatalf("WriteSingleRegister failed: %v", err)
	}
	regs, err := m.ReadHoldingRegisters(10, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	assertUint16Equal(t, []uint16{0x1234}, regs)

	if err := m.WriteMultipleRegisters(0, []uint16{7, 8, 9}); err != nil {
		t.Fatalf("WriteMultipleRegisters failed: %v", err)
	}
	d.mu.Lock()
	d.input[3] = 0xBEEF
	d.discrete[2] = true
	d.status = 0x55
	d.mu.Unlock()
	regs, err = m.ReadInputRegisters(3, 1)
	if err != nil {
		t.Fatalf("ReadInputRegisters failed: %v", err)
	}
	assertUint16Equal(t, []uint16{0xBEEF}, regs)

	if err := m.WriteSingleCoil(1, true); err != nil {
		t.Fatalf("WriteSingleCoil failed: %v", err)
	}
	if err := m.WriteMultipleCoils(4, []bool{true, true, false, true}); err != nil {
		t.Fatalf("WriteMultipleCoils failed: %v", err)
	}
	coils, err := m.ReadCoils(0, 8)
	if err != nil {
		t.Fatalf("ReadCoils failed: %v", err)
	}
	assertBoolEqual(t, []bool{false, true, false, false, true, true, false, true}, coils)

	inputs, err := m.ReadDiscreteInputs(0, 3)
	if err != nil {
		t.Fatalf("ReadDiscreteInputs failed: %v", err)
	}
	assertBoolEqual(t, []bool{false, false, true}, inputs)

	regs, err = m.ReadWriteMultipleRegisters(0, 3, 1, []uint16{0x0A0B})
	if err != nil {
		t.Fatalf("ReadWriteMultipleRegisters failed: %v", err)
	}
	assertUint16Equal(t, []uint16{7, 0x0A0B, 9}, regs)

	if err := m.MaskWriteRegister(2, 0x00F2, 0x0025); err != nil {
		t.Fatalf("MaskWriteRegister failed: %v", err)
	}
	if status, err := m.ReadExceptionStatus(); err != nil || status != 0x55 {
		t.Fatalf("ReadExceptionStatus = %02X, %v", status, err)
	}

	d.mu.Lock()
	d.exception = ExceptionIllegalDataAddress
	d.mu.Unlock()
	_, err = m.ReadHoldingRegisters(0, 1)
	assertKind(t, err, KindProtocolException)
	if code, _ := ExceptionCodeOf(err); code != ExceptionIllegalDataAddress {
		t.Errorf("exception code = %v", code)
	}
	d.mu.Lock()
	d.exception = 0
	d.mu.Unlock()
}

func TestTCPTransporter_OverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	d := newDeviceDouble()
	go serveMBAP(server, d)

	m, err := NewTCPMaster(client, Config{Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewTCPMaster failed: %v", err)
	}
	exercise(t, m, d)
	if unit := d.LastUnit(); unit != DefaultIPUnitID {
		t.Errorf("unit = %d, want %d", unit, DefaultIPUnitID)
	}
}

func TestTCPTransporter_SkipsStaleTransactions(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	p := NewTCPPackager()
	go func() {
		header := make([]byte, TCPHeaderLength)
		if _, err := io.ReadFull(server, header); err != nil {
			return
		}
		txID, unitID, n, _ := p.ParseHeader(header)
		io.ReadFull(server, make([]byte, n))
		stale, _ := p.Pack(txID-1, unitID, []byte{0x03, 0x02, 0xDE, 0xAD})
		fresh, _ := p.Pack(txID, unitID, []byte{0x03, 0x02, 0x12, 0x34})
		server.Write(append(stale, fresh...))
	}()

	tr := NewTCPTransporter(client, time.Second, nil)
	payload, err := tr.Transact(1, FuncCodeReadHoldingRegisters, uint16Bytes(0, 1))
	if err != nil {
		t.Fatalf("Transact failed: %v", err)
	}
	regs, err := decodeRegisters("test", payload, 1)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	assertUint16Equal(t, []uint16{0x1234}, regs)
}

func TestTCPTransporter_RejectsForeignUnitAndProtocol(t *testing.T) {
	cases := []struct {
		name  string
		reply func(txID uint16) []byte
	}{
		{"unit mismatch", func(txID uint16) []byte {
			frame, _ := NewTCPPackager().Pack(txID, 9, []byte{0x03, 0x02, 0x00, 0x01})
			return frame
		}},
		{"protocol id", func(txID uint16) []byte {
			frame, _ := NewTCPPackager().Pack(txID, 1, []byte{0x03, 0x02, 0x00, 0x01})
			frame[3] = 0x01
			return frame
		}},
		{"function code", func(txID uint16) []byte {
			frame, _ := NewTCPPackager().Pack(txID, 1, []byte{0x04, 0x02, 0x00, 0x01})
			return frame
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()
			go func() {
				header := make([]byte, TCPHeaderLength)
				if _, err := io.ReadFull(server, header); err != nil {
					return
				}
				txID, _, n, _ := NewTCPPackager().ParseHeader(header)
				io.ReadFull(server, make([]byte, n))
				server.Write(tc.reply(txID))
			}()
			m, err := NewTCPMaster(client, Config{Timeout: time.Second, UnitID: 1, HasUnitID: true})
			if err != nil {
				t.Fatalf("NewTCPMaster failed: %v", err)
			}
			_, err = m.ReadHoldingRegisters(0, 1)
			assertKind(t, err, KindTransportException)
		})
	}
}

func TestTCPTransporter_TransactionIDWraps(t *testing.T) {
	tr := NewTCPTransporter(&recordingLink{}, 0, nil)
	tr.transactionID = 0xFFFF
	if id := tr.NextTransactionID(); id != 0 {
		t.Errorf("NextTransactionID = %d, want 0", id)
	}
	if id := tr.NextTransactionID(); id != 1 {
		t.Errorf("NextTransactionID = %d, want 1", id)
	}
}

func TestRTUTransporter_OverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	d := newDeviceDouble()
	go serveRTU(server, d)

	m, err := NewSerialMaster(client, Config{Timeout: time.Second, UnitID: 5, HasUnitID: true})
	if err != nil {
		t.Fatalf("NewSerialMaster failed: %v", err)
	}
	exercise(t, m, d)
	if unit := d.LastUnit(); unit != 5 {
		t.Errorf("unit = %d, want 5", unit)
	}
}

func TestRTUTransporter_CRCErrorIsTransportException(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go func() {
		io.ReadFull(server, make([]byte, 8))
		frame, _ := NewRTUPackager().Pack(1, []byte{0x03, 0x02, 0x12, 0x34})
		frame[len(frame)-1] ^= 0xFF
		server.Write(frame)
	}()

	m, err := NewSerialMaster(client, Config{Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewSerialMaster failed: %v", err)
	}
	_, err = m.ReadHoldingRegisters(0, 1)
	assertKind(t, err, KindTransportException)
}

func TestRTUTransporter_DiscardsMismatchedReply(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go func() {
		p := NewRTUPackager()
		req := make([]byte, 8)
		io.ReadFull(server, req)
		stale, _ := p.Pack(1, []byte{0x04, 0x04, 0xAA, 0xBB, 0xCC, 0xDD})
		server.Write(stale)
		io.ReadFull(server, req)
		reply, _ := p.Pack(1, []byte{0x03, 0x02, 0x12, 0x34})
		server.Write(reply)
	}()

	m, err := NewSerialMaster(client, Config{Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewSerialMaster failed: %v", err)
	}
	_, err = m.ReadHoldingRegisters(0, 1)
	assertKind(t, err, KindTransportException)

	regs, err := m.ReadHoldingRegisters(0, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters after mismatched reply failed: %v", err)
	}
	assertUint16Equal(t, []uint16{0x1234}, regs)
}

func TestRTUReplyLength(t *testing.T) {
	cases := []struct {
		fc   uint8
		head []byte
		want int
	}{
		{FuncCodeReadHoldingRegisters, []byte{1, 0x03, 4}, 9},
		{FuncCodeReadCoils, []byte{1, 0x01, 1}, 6},
		{FuncCodeReadHoldingRegisters, []byte{1, 0x83, 2}, 5},
		{FuncCodeWriteSingleRegister, []byte{1, 0x06, 0}, 8},
		{FuncCodeWriteMultipleCoils, []byte{1, 0x0F, 0}, 8},
		{FuncCodeMaskWriteRegister, []byte{1, 0x16, 0}, 10},
		{FuncCodeReadExceptionStatus, []byte{1, 0x07, 0x6D}, 5},
		{FuncCodeReadWriteMultipleRegisters, []byte{1, 0x17, 6}, 11},
	}
	for _, tc := range cases {
		got, err := rtuReplyLength(tc.fc, tc.head)
		if err != nil || got != tc.want {
			t.Errorf("rtuReplyLength(% X) = %d, %v; want %d", tc.head, got, err, tc.want)
		}
	}
	if _, err := rtuReplyLength(FuncCodeReadCoils, []byte{1, 0x03, 2}); err == nil {
		t.Error("expected function code mismatch")
	}
}

func TestASCIITransporter_OverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	d := newDeviceDouble()
	go serveASCII(server, d)

	m, err := NewSerialMaster(client, Config{Framing: FramingASCII, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewSerialMaster failed: %v", err)
	}
	exercise(t, m, d)
	if unit := d.LastUnit(); unit != DefaultSerialUnitID {
		t.Errorf("unit = %d, want %d", unit, DefaultSerialUnitID)
	}
}

func TestRTUFramingOverTCPStream(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	d := newDeviceDouble()
	go serveRTU(server, d)

	m, err := NewTCPMaster(client, Config{Framing: FramingRTU, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewTCPMaster failed: %v", err)
	}
	if m.Mode() != "rtu" || m.UnitID() != DefaultSerialUnitID {
		t.Fatalf("mode %s unit %d", m.Mode(), m.UnitID())
	}
	exercise(t, m, d)
}
