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
	"time"
)

// Link is the raw byte channel a transporter frames over. A net.Conn, a
// serial port or any other stream satisfies it.
type Link interface {
	io.Reader
	io.Writer
}

// DeadlineLink is implemented by links with absolute deadlines (net.Conn).
type DeadlineLink interface {
	Link
	SetDeadline(t time.Time) error
}

// TimedLink is implemented by links with relative timeouts, as some serial
// port drivers expose.
type TimedLink interface {
	Link
	SetReadTimeout(timeout time.Duration) error
	SetWriteTimeout(timeout time.Duration) error
}

// armDeadline bounds the next exchange on l. Links without deadline support
// are left as is and block until the peer answers or the link fails.
func armDeadline(l Link, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	switch v := l.(type) {
	case DeadlineLink:
		return v.SetDeadline(time.Now().Add(timeout))
	case TimedLink:
		if err := v.SetReadTimeout(timeout); err != nil {
			return err
		}
		return v.SetWriteTimeout(timeout)
	}
	return nil
}

func clearDeadline(l Link) {
	if v, ok := l.(DeadlineLink); ok {
		v.SetDeadline(time.Time{})
	}
}

// writeFull writes the whole frame, looping over short writes.
func writeFull(l Link, frame []byte) error {
	written := 0
	for written < len(frame) {
		n, err := l.Write(frame[written:])
		if err != nil {
			return fmt.Errorf("write failed after %d bytes: %w", written, err)
		}
		if n == 0 {
			return fmt.Errorf("write failed after %d bytes: %w", written, io.ErrShortWrite)
		}
		written += n
	}
	return nil
}

// maxDatagramSize covers the largest ADU of any framing.
const maxDatagramSize = 520

// errDatagramShort ends a read that runs past the datagram it started in.
var errDatagramShort = fmt.Errorf("datagram shorter than frame: %w", io.ErrUnexpectedEOF)

// datagramLink turns a connected UDP socket into a stream: each received
// datagram is buffered and served to subsequent reads, and a read never
// spans two datagrams. Writing a request drops whatever is left of the
// previous reply.
type datagramLink struct {
	conn *net.UDPConn
	buf  []byte
	rest []byte
}

func newDatagramLink(conn *net.UDPConn) *datagramLink {
	return &datagramLink{conn: conn, buf: make([]byte, maxDatagramSize)}
}

func (d *datagramLink) Read(p []byte) (int, error) {
	if len(d.rest) == 0 {
		n, err := d.conn.Read(d.buf)
		if err != nil {
			return 0, err
		}
		d.rest = d.buf[:n]
	}
	n := copy(p, d.rest)
	d.rest = d.rest[n:]
	if n < len(p) {
		return n, errDatagramShort
	}
	return n, nil
}

// Write sends p as a single datagram.
func (d *datagramLink) Write(p []byte) (int, error) {
	d.rest = nil
	return d.conn.Write(p)
}

func (d *datagramLink) SetDeadline(t time.Time) error {
	return d.conn.SetDeadline(t)
}
