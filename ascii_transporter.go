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
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// ASCIITransporter speaks Modbus ASCII. Replies are delimited by ':' and
// CR LF, so no length prediction is needed.
type ASCIITransporter struct {
	link     Link
	reader   *bufio.Reader
	timeout  time.Duration
	packager *ASCIIPackager
	logger   *log.Logger
	mu       sync.Mutex
}

func NewASCIITransporter(link Link, timeout time.Duration, logger io.Writer) *ASCIITransporter {
	var asciiLogger *log.Logger
	if logger != nil {
		asciiLogger = log.New(logger, "[ASCII] ", log.LstdFlags)
	}
	return &ASCIITransporter{
		link:     link,
		reader:   bufio.NewReaderSize(link, MaxASCIIFrameLength),
		timeout:  timeout,
		packager: NewASCIIPackager(),
		logger:   asciiLogger,
	}
}

func (t *ASCIITransporter) log(format string, v ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, v...)
	}
}

func (t *ASCIITransporter) Mode() string { return "ascii" }

func (t *ASCIITransporter) Transact(unitID, functionCode uint8, payload []byte) ([]byte, error) {
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

	if err := armDeadline(t.link, t.timeout); err != nil {
		return nil, fmt.Errorf("failed to set timeout: %w", err)
	}
	defer clearDeadline(t.link)

	t.log("DEBUG: sending %q", frame)
	if err := writeFull(t.link, frame); err != nil {
		return nil, err
	}

	resp, err := t.readFrame()
	if err != nil {
		return nil, err
	}
	t.log("DEBUG: received %q", resp)

	respUnitID, respPDU, err := t.packager.Unpack(resp)
	if err != nil {
		return nil, err
	}
	if respUnitID != unitID {
		return nil, fmt.Errorf("unit ID mismatch: sent %d, received %d", unitID, respUnitID)
	}
	return responsePayload(functionCode, respPDU)
}

// readFrame returns everything from the last ':' up to and including LF.
// Noise before the start character is dropped.
func (t *ASCIITransporter) readFrame() ([]byte, error) {
	line, err := t.reader.ReadSlice('\n')
	if err != nil {
		if err == bufio.ErrBufferFull {
			return nil, fmt.Errorf("frame exceeds %d bytes", MaxASCIIFrameLength)
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	start := bytes.LastIndexByte(line, asciiStart)
	if start < 0 {
		return nil, fmt.Errorf("frame without start character")
	}
	frame := make([]byte, len(line)-start)
	copy(frame, line[start:])
	return frame, nil
}
