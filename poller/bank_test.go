package poller

import (
	"encoding/binary"
	"fmt"
	"sync"
	"testing"

	modbus "github.com/hootrhino/modbusmaster"
)

// bank is an in-memory unit answering FC 1 to 4.
// request is one exchange seen by a bank.
type request struct {
	unit     uint8
	function uint8
	start    uint16
}

type bank struct {
	mu       sync.Mutex
	coils    map[uint16]bool
	words    map[uint16]uint16
	failUnit uint8
	calls    int
	requests []request
}

func newBank() *bank {
	return &bank{coils: map[uint16]bool{}, words: map[uint16]uint16{}}
}

func (b *bank) Mode() string { return "bank" }

func (b *bank) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *bank) Requests() []request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]request(nil), b.requests...)
}

func (b *bank) Transact(unitID, functionCode uint8, payload []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.failUnit != 0 && unitID == b.failUnit {
		return nil, &modbus.ModbusError{FunctionCode: functionCode, ExceptionCode: modbus.ExceptionIllegalDataAddress}
	}
	if len(payload) != 4 {
		return nil, fmt.Errorf("bank: payload length %d", len(payload))
	}
	start := binary.BigEndian.Uint16(payload)
	qty := binary.BigEndian.Uint16(payload[2:])
	b.requests = append(b.requests, request{unitID, functionCode, start})
	switch functionCode {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs:
		n := (int(qty) + 7) / 8
		out := make([]byte, 1+n)
		out[0] = byte(n)
		for i := 0; i < int(qty); i++ {
			if b.coils[start+uint16(i)] {
				out[1+i/8] |= 1 << (i % 8)
			}
		}
		return out, nil
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		out := make([]byte, 1+2*int(qty))
		out[0] = byte(2 * qty)
		for i := 0; i < int(qty); i++ {
			binary.BigEndian.PutUint16(out[1+2*i:], b.words[start+uint16(i)])
		}
		return out, nil
	}
	return nil, &modbus.ModbusError{FunctionCode: functionCode, ExceptionCode: modbus.ExceptionIllegalFunction}
}

func newBankMaster(t *testing.T, b *bank) *modbus.Master {
	t.Helper()
	m, err := modbus.NewMaster(b, 1, nil)
	if err != nil {
		t.Fatalf("NewMaster: %v", err)
	}
	return m
}
