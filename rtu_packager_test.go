package modbus

import (
	"bytes"
	"testing"
)

func TestRTUPackager_PackUnpack(t *testing.T) {
	p := NewRTUPackager()
	pdu := []byte{0x03, 0x00, 0x00, 0x00, 0x0A}

	frame, err := p.Pack(0x01, pdu)
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A, 0xC5, 0xCD}
	if !bytes.Equal(frame, want) {
		t.Fatalf("Pack = % X, want % X", frame, want)
	}
	if !p.VerifyCRC(frame) {
		t.Fatalf("VerifyCRC failed on packed frame")
	}

	unitID, gotPDU, err := p.Unpack(frame)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if unitID != 0x01 {
		t.Errorf("Unpack unitID mismatch: got %d, want 1", unitID)
	}
	if !bytes.Equal(gotPDU, pdu) {
		t.Errorf("Unpack PDU mismatch: got %v, want %v", gotPDU, pdu)
	}
}

func TestRTUPackager_VerifyCRC_Invalid(t *testing.T) {
	p := NewRTUPackager()
	frame := []byte{0x01, 0x03, 0x02, 0x12, 0x34, 0x00, 0x00}
	if p.VerifyCRC(frame) {
		t.Error("VerifyCRC should fail for invalid CRC")
	}
	if _, _, err := p.Unpack(frame); err == nil {
		t.Error("Unpack should fail for invalid CRC")
	}
}

func TestRTUPackager_Pack_Invalid(t *testing.T) {
	p := NewRTUPackager()
	if _, err := p.Pack(1, []byte{}); err == nil {
		t.Error("Pack should fail for empty PDU")
	}
	if _, err := p.Pack(1, make([]byte, MaxPDULength+1)); err == nil {
		t.Error("Pack should fail for too long PDU")
	}
}

func TestRTUPackager_Unpack_ShortFrame(t *testing.T) {
	p := NewRTUPackager()
	if _, _, err := p.Unpack([]byte{0x01, 0x03, 0x00}); err == nil {
		t.Error("Unpack should fail for short frame")
	}
}
