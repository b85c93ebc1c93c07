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
	"sync/atomic"
	"time"
)

// maxStaleFrames bounds how many replies carrying an older transaction id
// are skipped before an exchange is abandoned.
const maxStaleFrames = 8

// TCPTransporter speaks MBAP over a stream or datagram link.
type TCPTransporter struct {
	link          Link
	timeout       time.Duration
	packager      *TCPPackager
	logger        *log.Logger
	transactionID uint32 // atomic
	mu            sync.Mutex
}

// NewTCPTransporter creates an MBAP transporter. A zero timeout leaves the
// link's own blocking behaviour in place.
func NewTCPTransporter(link Link, timeout time.Duration, logger io.Writer) *TCPTransporter {
	var tcpLogger *log.Logger
	if logger != nil {
		tcpLogger = log.New(logger, "[TCP] ", log.LstdFlags)
	}
	return &TCPTransporter{
		link:     link,
		timeout:  timeout,
		packager: NewTCPPackager(),
		logger:   tcpLogger,
	}
}

func (t *TCPTransporter) log(format string, v ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, v...)
	}
}

func (t *TCPTransporter) Mode() string { return "tcp" }

// NextTransactionID wraps around at 65535.
func (t *TCPTransporter) NextTransactionID() uint16 {
	return uint16(atomic.AddUint32(&t.transactionID, 1))
}

func (t *TCPTransporter) Transact(unitID, functionCode uint8, payload []byte) ([]byte, error) {
	pdu, err := buildPDU(functionCode, payload)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	txID := t.NextTransactionID()
	frame, err := t.packager.Pack(txID, unitID, pdu)
	if err != nil {
		return nil, fmt.Errorf("failed to pack PDU: %w", err)
	}

	if err := armDeadline(t.link, t.timeout); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	defer clearDeadline(t.link)

	t.log("DEBUG: sending TxID=0x%04X UnitID=%d % X", txID, unitID, frame)
	if err := writeFull(t.link, frame); err != nil {
		return nil, err
	}

	for i := 0; i < maxStaleFrames; i++ {
		respTxID, respUnitID, respPDU, err := t.receive()
		if err != nil {
			return nil, err
		}
		if respTxID != txID {
			t.log("WARNING: transaction ID mismatch: sent=0x%04X, received=0x%04X, ignoring", txID, respTxID)
			continue
		}
		if respUnitID != unitID {
			return nil, fmt.Errorf("unit ID mismatch: sent %d, received %d", unitID, respUnitID)
		}
		t.log("DEBUG: received TxID=0x%04X UnitID=%d % X", respTxID, respUnitID, respPDU)
		return responsePayload(functionCode, respPDU)
	}
	return nil, fmt.Errorf("no reply for transaction 0x%04X after %d stale frames", txID, maxStaleFrames)
}

// receive reads one MBAP frame: the header first, then exactly the number
// of bytes its length field announces.
func (t *TCPTransporter) receive() (transactionID uint16, unitID uint8, pdu []byte, err error) {
	header := make([]byte, TCPHeaderLength)
	if _, err = io.ReadFull(t.link, header); err != nil {
		err = fmt.Errorf("failed to read MBAP header: %w", err)
		return
	}
	var pduLength int
	transactionID, unitID, pduLength, err = t.packager.ParseHeader(header)
	if err != nil {
		return
	}
	pdu = make([]byte, pduLength)
	if _, err = io.ReadFull(t.link, pdu); err != nil {
		err = fmt.Errorf("failed to read PDU (%d bytes): %w", pduLength, err)
	}
	return
}
