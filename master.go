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
	"net"
	"strings"
	"time"
)

// Framing selects how PDUs are wrapped on the link.
type Framing int

const (
	// FramingDefault lets the constructor pick: MBAP for network
	// connections and streams, RTU for serial ports.
	FramingDefault Framing = iota
	FramingMBAP
	FramingRTU
	FramingASCII
)

func (f Framing) String() string {
	switch f {
	case FramingMBAP:
		return "mbap"
	case FramingRTU:
		return "rtu"
	case FramingASCII:
		return "ascii"
	default:
		return "default"
	}
}

// ParseFraming accepts "mbap" (or "tcp"), "rtu", "ascii" and "".
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return FramingDefault, nil
	case "mbap", "tcp":
		return FramingMBAP, nil
	case "rtu":
		return FramingRTU, nil
	case "ascii":
		return FramingASCII, nil
	}
	return FramingDefault, fmt.Errorf("modbus: unknown framing %q", s)
}

func (f Framing) serial() bool {
	return f == FramingRTU || f == FramingASCII
}

// Config controls how a Master is built over a connection.
type Config struct {
	// UnitID is used only when HasUnitID is set; otherwise the framing's
	// default applies (DefaultIPUnitID or DefaultSerialUnitID).
	UnitID    uint8
	HasUnitID bool
	Framing   Framing
	// Timeout bounds each exchange through link deadlines. Zero disables it.
	Timeout time.Duration
	// InterFrameDelay is the RTU bus silence between exchanges.
	InterFrameDelay time.Duration
	Logger          io.Writer
	// Decorate, when set, wraps the transporter built for the link, for
	// example with instrumentation.
	Decorate func(ModbusTransporter) ModbusTransporter
}

// DefaultConfig returns a one second timeout and constructor defaults for
// everything else.
func DefaultConfig() Config {
	return Config{Timeout: time.Second}
}

// WithUnit returns a copy of c addressing unitID.
func (c Config) WithUnit(unitID uint8) Config {
	c.UnitID, c.HasUnitID = unitID, true
	return c
}

// Master issues typed, validated requests to one unit over one
// transporter. It holds no lock: a Master must not be used from several
// goroutines at once. The connection is owned by the caller and never
// closed by the Master.
type Master struct {
	transporter ModbusTransporter
	unitID      uint8
	serial      bool
	logger      io.Writer
}

// NewTCPMaster binds a Master to a connected stream socket. A UDP socket
// is handled as in NewUDPMaster.
func NewTCPMaster(conn net.Conn, cfg Config) (*Master, error) {
	const op = "NewTCPMaster"
	if isNil(conn) {
		return nil, invalidArgument(op, "connection is nil")
	}
	if udp, ok := conn.(*net.UDPConn); ok {
		return newDatagramMaster(op, udp, FramingMBAP, cfg)
	}
	return newLinkMaster(op, conn, FramingMBAP, cfg)
}

// NewUDPMaster binds a Master to a UDP socket that must already be
// connected to its peer (net.DialUDP); each request and reply travels in
// one datagram.
func NewUDPMaster(conn *net.UDPConn, cfg Config) (*Master, error) {
	const op = "NewUDPMaster"
	if conn == nil {
		return nil, invalidArgument(op, "connection is nil")
	}
	return newDatagramMaster(op, conn, FramingMBAP, cfg)
}

// NewSerialMaster binds a Master to an open serial port, RTU framed unless
// cfg says otherwise.
func NewSerialMaster(port io.ReadWriter, cfg Config) (*Master, error) {
	const op = "NewSerialMaster"
	if isNil(port) {
		return nil, invalidArgument(op, "serial port is nil")
	}
	if udp, ok := port.(*net.UDPConn); ok {
		return newDatagramMaster(op, udp, FramingRTU, cfg)
	}
	return newLinkMaster(op, port, FramingRTU, cfg)
}

// NewStreamMaster binds a Master to any byte stream, MBAP framed unless
// cfg says otherwise.
func NewStreamMaster(stream io.ReadWriter, cfg Config) (*Master, error) {
	const op = "NewStreamMaster"
	if isNil(stream) {
		return nil, invalidArgument(op, "stream is nil")
	}
	if udp, ok := stream.(*net.UDPConn); ok {
		return newDatagramMaster(op, udp, FramingMBAP, cfg)
	}
	return newLinkMaster(op, stream, FramingMBAP, cfg)
}

// newDatagramMaster is the path of every constructor handed a UDP socket.
// The socket must be connected to its peer, and ASCII lines cannot be
// split across datagrams.
func newDatagramMaster(op string, conn *net.UDPConn, fallback Framing, cfg Config) (*Master, error) {
	if addr := conn.RemoteAddr(); isNil(addr) {
		return nil, &Error{Kind: KindInvalidConnectionState, Op: op, Err: fmt.Errorf("datagram socket has no remote peer")}
	}
	if cfg.Framing == FramingASCII {
		return nil, invalidArgument(op, "ASCII framing needs a stream link")
	}
	return newLinkMaster(op, newDatagramLink(conn), fallback, cfg)
}

// NewMaster binds a Master to a caller supplied transporter. Serial unit
// id limits apply when the transporter reports an RTU or ASCII mode.
func NewMaster(t ModbusTransporter, unitID uint8, logger io.Writer) (*Master, error) {
	const op = "NewMaster"
	if isNil(t) {
		return nil, invalidArgument(op, "transporter is nil")
	}
	serial := serialMode(t.Mode())
	if serial {
		if err := checkSerialUnit(op, unitID); err != nil {
			return nil, err
		}
	}
	return &Master{transporter: t, unitID: unitID, serial: serial, logger: logger}, nil
}

func newLinkMaster(op string, link Link, fallback Framing, cfg Config) (*Master, error) {
	framing := cfg.Framing
	if framing == FramingDefault {
		framing = fallback
	}
	unitID := DefaultIPUnitID
	if framing.serial() {
		unitID = DefaultSerialUnitID
	}
	if cfg.HasUnitID {
		unitID = cfg.UnitID
	}
	if framing.serial() {
		if err := checkSerialUnit(op, unitID); err != nil {
			return nil, err
		}
	}

	var t ModbusTransporter
	switch framing {
	case FramingMBAP:
		t = NewTCPTransporter(link, cfg.Timeout, cfg.Logger)
	case FramingRTU:
		t = NewRTUTransporter(link, RTUConfig{
			Timeout:         cfg.Timeout,
			InterFrameDelay: cfg.InterFrameDelay,
			Logger:          cfg.Logger,
		})
	case FramingASCII:
		t = NewASCIITransporter(link, cfg.Timeout, cfg.Logger)
	default:
		return nil, invalidArgument(op, "unknown framing %d", int(framing))
	}
	if cfg.Decorate != nil {
		if t = cfg.Decorate(t); isNil(t) {
			return nil, invalidArgument(op, "decorated transporter is nil")
		}
	}
	return &Master{transporter: t, unitID: unitID, serial: framing.serial(), logger: cfg.Logger}, nil
}

func serialMode(mode string) bool {
	switch mode {
	case "rtu", "ascii", "goburrow-rtu":
		return true
	}
	return false
}

// UnitID returns the unit every request of this Master is addressed to.
func (m *Master) UnitID() uint8 { return m.unitID }

// Mode reports the framing of the underlying transporter.
func (m *Master) Mode() string { return m.transporter.Mode() }

// WithUnit returns a Master for another unit on the same transporter. The
// receiver is unchanged.
func (m *Master) WithUnit(unitID uint8) (*Master, error) {
	if m.serial {
		if err := checkSerialUnit("WithUnit", unitID); err != nil {
			return nil, err
		}
	}
	c := *m
	c.unitID = unitID
	return &c, nil
}

func (m *Master) logf(format string, args ...any) {
	if m.logger != nil {
		fmt.Fprintf(m.logger, format+"\n", args...)
	}
}

// transact runs one exchange and classifies its failure.
func (m *Master) transact(op string, functionCode uint8, payload []byte) ([]byte, error) {
	resp, err := m.transporter.Transact(m.unitID, functionCode, payload)
	if err != nil {
		err = classify(op, err)
		m.logf("ERROR: modbus: unit %d func %02X: %v", m.unitID, functionCode, err)
		return nil, err
	}
	return resp, nil
}
