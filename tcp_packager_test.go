package modbus

import (
	"bytes"
	"testing"
)

func TestTCPPackager_Pack(t *testing.T) {
	p := NewTCPPackager()
	frame, err := p.Pack(0x0001, 0x11, []byte{0x03, 0x00, 0x6B, 0x00, 0x03})
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	want := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}
	if !bytes.Equal(frame, want) {
		t.Errorf("Pack = % X, want % X", frame, want)
	}

	txID, unitID, pdu, err := p.Unpack(frame)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if txID != 1 || unitID != 0x11 || !bytes.Equal(pdu, want[7:]) {
		t.Errorf("Unpack = %04X %02X % X", txID, unitID, pdu)
	}
}

func TestTCPPackager_Pack_Invalid(t *testing.T) {
	p := NewTCPPackager()
	if _, err := p.Pack(1, 1, nil); err == nil {
		t.Error("Pack should fail for empty PDU")
	}
	if _, err := p.Pack(1, 1, make([]byte, MaxPDULength+1)); err == nil {
		t.Error("Pack should fail for PDU exceeding max length")
	}
}

func TestTCPPackager_Unpack_Invalid(t *testing.T) {
	p := NewTCPPackager()
	if _, _, _, err := p.Unpack([]byte{1, 2, 3}); err == nil {
		t.Error("Unpack should fail for short frame")
	}
	if _, _, _, err := p.Unpack(make([]byte, MaxTCPFrameLength+1)); err == nil {
		t.Error("Unpack should fail for long frame")
	}

	frame, _ := p.Pack(1, 1, []byte{0x03, 0x00})
	frame[2], frame[3] = 0xFF, 0xFF
	if _, _, _, err := p.Unpack(frame); err == nil {
		t.Error("Unpack should fail for invalid protocol ID")
	}

	frame, _ = p.Pack(1, 1, []byte{0x03, 0x00})
	frame[4], frame[5] = 0x00, 0x00
	if _, _, _, err := p.Unpack(frame); err == nil {
		t.Error("Unpack should fail for zero length field")
	}

	frame, _ = p.Pack(1, 1, []byte{0x03, 0x00})
	if _, _, _, err := p.Unpack(append(frame, 0x00)); err == nil {
		t.Error("Unpack should fail for trailing bytes")
	}
}

func TestTCPPackager_ParseHeader(t *testing.T) {
	p := NewTCPPackager()
	txID, unitID, n, err := p.ParseHeader([]byte{0x12, 0x34, 0x00, 0x00, 0x00, 0x05, 0x07})
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if txID != 0x1234 || unitID != 7 || n != 4 {
		t.Errorf("ParseHeader = %04X %d %d", txID, unitID, n)
	}
	if _, _, _, err := p.ParseHeader([]byte{0, 1, 0, 0, 0x01, 0x00, 1}); err == nil {
		t.Error("ParseHeader should fail for oversized length")
	}
	if _, _, _, err := p.ParseHeader([]byte{0, 1, 0, 0, 0x00, 0x01, 1}); err == nil {
		t.Error("ParseHeader should fail without a function code")
	}
}
