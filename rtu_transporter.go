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
	"io"
	"log"
	"sync"
	"time"
)

// RTUConfig holds configuration parameters for the RTU transporter.
type RTUConfig struct {
	Timeout time.Duration
	// InterFrameDelay is the bus silence kept between the end of one
	// exchange and the next request (3.5 characters).
	InterFrameDelay time.Duration
	Logger          io.Writer
}

func DefaultRTUConfig() RTUConfig {
	return RTUConfig{
		Timeout:         1 * time.Second,
		InterFrameDelay: 4 * time.Millisecond, // 3.5 chars at 9600 baud
	}
}

// RTUTransporter speaks Modbus RTU over a serial line or a raw stream
// (RTU over TCP).
type RTUTransporter struct {
	link            Link
	timeout         time.Duration
	interFrameDelay time.Duration
	packager        *RTUPackager
	logger          *log.Logger
	mu              sync.Mutex
	lastActivity    time.Time
}

func NewRTUTransporter(link Link, config RTUConfig) *RTUTransporter {
	var rtuLogger *log.Logger
	if config.Logger != nil {
		rtuLogger = log.New(config.Logger, "[RTU] ", log.LstdFlags)
	}
	return &RTUTransporter{
		link:            link,
		timeout:         config.Timeout,
		interFrameDelay: config.InterFrameDelay,
		packager:        NewRTUPackager(),
		logger:          rtuLogger,
	}
}

func (t *RTUTransporter) log(format string, v ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, v...)
	}
}

func (t *RTUTransporter) Mode() string { return "rtu" }

func (t *RTUTransporter) Transact(unitID, functionCode uint8, payload []byte) ([]byte, error) {
	pdu, err := buildPDU(functionCode, payload)
	if err != nil {
		return nil, err
	}
	frame, err := t.packager.Pack(unitID, pdu)
	if err != nil {
		return nil, fmt.Errorf("failed to pack frame: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.lastActivity = time.Now() }()

	if wait := t.interFrameDelay - time.Since(t.lastActivity); wait > 0 {
		time.Sleep(wait)
	}

	if err := armDeadline(t.link, t.timeout); err != nil {
		return nil, fmt.Errorf("failed to set timeout: %w", err)
	}
	defer clearDeadline(t.link)

	t.log("DEBUG: sending % X", frame)
	if err := writeFull(t.link, frame); err != nil {
		return nil, err
	}

	resp, err := t.readFrame(functionCode)
	if err != nil {
		return nil, err
	}
	t.log("DEBUG: received % X", resp)

	respUnitID, respPDU, err := t.packager.Unpack(resp)
	if err != nil {
		return nil, err
	}
	if respUnitID != unitID {
		return nil, fmt.Errorf("unit ID mismatch: sent %d, received %d", unitID, respUnitID)
	}
	return responsePayload(functionCode, respPDU)
}

// readFrame reads exactly one reply. RTU has no length field, so the
// expected size is derived from the function code of the reply.
func (t *RTUTransporter) readFrame(functionCode uint8) ([]byte, error) {
	frame := make([]byte, MaxRTUFrameLength)
	// unit id, function code and the first data byte
	if _, err := io.ReadFull(t.link, frame[:3]); err != nil {
		return nil, fmt.Errorf("failed to read frame head: %w", err)
	}
	length, err := rtuReplyLength(functionCode, frame[:3])
	if err != nil {
		t.discard()
		return nil, err
	}
	if _, err := io.ReadFull(t.link, frame[3:length]); err != nil {
		return nil, fmt.Errorf("failed to read frame body (%d bytes): %w", length-3, err)
	}
	return frame[:length], nil
}

// rtuDrainSilence is the quiet period that ends a discarded reply.
const rtuDrainSilence = 20 * time.Millisecond

// discard drops input until the line has been quiet for the larger of
// rtuDrainSilence and the inter-frame delay, bounded by the request timeout.
// Links without read deadlines are left alone.
func (t *RTUTransporter) discard() {
	limit := t.timeout
	if limit <= 0 {
		limit = DefaultRTUConfig().Timeout
	}
	quiet := max(t.interFrameDelay, rtuDrainSilence)
	end := time.Now().Add(limit)
	buf := make([]byte, MaxRTUFrameLength)
	for dropped := 0; time.Now().Before(end); {
		switch v := t.link.(type) {
		case DeadlineLink:
			if err := v.SetDeadline(time.Now().Add(quiet)); err != nil {
				return
			}
		case TimedLink:
			if err := v.SetReadTimeout(quiet); err != nil {
				return
			}
		default:
			return
		}
		n, err := t.link.Read(buf)
		if n > 0 {
			dropped += n
			t.log("WARNING: discarded %d bytes of unexpected reply", dropped)
		}
		if err != nil || n == 0 {
			return
		}
	}
}

// rtuReplyLength returns the full frame length of a reply whose first three
// bytes are head.
func rtuReplyLength(functionCode uint8, head []byte) (int, error) {
	fc := head[1]
	if fc&exceptionBit != 0 {
		return 5, nil
	}
	if fc != functionCode {
		return 0, fmt.Errorf("function code mismatch: sent %02X, received %02X", functionCode, fc)
	}
	switch fc {
	case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		return 8, nil
	case FuncCodeMaskWriteRegister:
		return 10, nil
	case FuncCodeReadExceptionStatus:
		return 5, nil
	default:
		// reads and custom functions: byte count, data, CRC
		length := 3 + int(head[2]) + 2
		if length > MaxRTUFrameLength {
			return 0, fmt.Errorf("byte count %d exceeds frame size", head[2])
		}
		return length, nil
	}
}
