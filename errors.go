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
	"errors"
	"fmt"
)

// ErrorKind tags every error returned by a Master so callers can switch on
// it exhaustively.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindInvalidArgument: a required construction input is nil or unusable.
	KindInvalidArgument
	// KindInvalidConnectionState: a datagram socket is not bound to a peer.
	KindInvalidConnectionState
	// KindInvalidRange: address or quantity outside the operation's bounds.
	// Raised before any I/O.
	KindInvalidRange
	// KindProtocolException: the device answered with an exception reply.
	KindProtocolException
	// KindTransportException: malformed reply, checksum failure or timeout.
	KindTransportException
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindInvalidConnectionState:
		return "invalid connection state"
	case KindInvalidRange:
		return "invalid range"
	case KindProtocolException:
		return "protocol exception"
	case KindTransportException:
		return "transport exception"
	default:
		return "unknown"
	}
}

// Error is the single error type surfaced by the master facade.
type Error struct {
	Kind ErrorKind
	Op   string // facade operation or constructor, e.g. "ReadCoils"
	Err  error
}

func (e *Error) Error() string {
	msg := "modbus: "
	if e.Op != "" {
		msg += e.Op + ": "
	}
	msg += e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind, so that
// errors.Is(err, ErrInvalidRange) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Timeout reports whether a transport error was caused by a deadline.
func (e *Error) Timeout() bool {
	var te interface{ Timeout() bool }
	return e.Kind == KindTransportException && errors.As(e.Err, &te) && te.Timeout()
}

// Sentinels for errors.Is.
var (
	ErrInvalidArgument        = &Error{Kind: KindInvalidArgument}
	ErrInvalidConnectionState = &Error{Kind: KindInvalidConnectionState}
	ErrInvalidRange           = &Error{Kind: KindInvalidRange}
	ErrProtocol               = &Error{Kind: KindProtocolException}
	ErrTransport              = &Error{Kind: KindTransportException}
)

// KindOf returns the kind of err, or KindUnknown if err did not come from
// this package.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ExceptionCodeOf extracts the device exception code carried by err.
func ExceptionCodeOf(err error) (ExceptionCode, bool) {
	var me *ModbusError
	if errors.As(err, &me) {
		return me.ExceptionCode, true
	}
	return 0, false
}

// ExceptionCode is the one-byte code of a Modbus exception reply.
type ExceptionCode uint8

const (
	ExceptionIllegalFunction                    ExceptionCode = 0x01
	ExceptionIllegalDataAddress                 ExceptionCode = 0x02
	ExceptionIllegalDataValue                   ExceptionCode = 0x03
	ExceptionSlaveDeviceFailure                 ExceptionCode = 0x04
	ExceptionAcknowledge                        ExceptionCode = 0x05
	ExceptionSlaveDeviceBusy                    ExceptionCode = 0x06
	ExceptionMemoryParityError                  ExceptionCode = 0x08
	ExceptionGatewayPathUnavailable             ExceptionCode = 0x0A
	ExceptionGatewayTargetDeviceFailedToRespond ExceptionCode = 0x0B
)

// String returns a human-readable message for the exception code.
func (c ExceptionCode) String() string {
	switch c {
	case ExceptionIllegalFunction:
		return "Illegal function"
	case ExceptionIllegalDataAddress:
		return "Illegal data address"
	case ExceptionIllegalDataValue:
		return "Illegal data value"
	case ExceptionSlaveDeviceFailure:
		return "Slave device failure"
	case ExceptionAcknowledge:
		return "Acknowledge"
	case ExceptionSlaveDeviceBusy:
		return "Slave device busy"
	case ExceptionMemoryParityError:
		return "Memory parity error"
	case ExceptionGatewayPathUnavailable:
		return "Gateway path unavailable"
	case ExceptionGatewayTargetDeviceFailedToRespond:
		return "Gateway target device failed to respond"
	default:
		return "Unknown exception code"
	}
}

// ModbusError is a well-formed exception reply from the device.
type ModbusError struct {
	FunctionCode  uint8 // request function code, exception bit cleared
	ExceptionCode ExceptionCode
}

func (e *ModbusError) Error() string {
	return fmt.Sprintf("exception reply for func %02X: code 0x%02X - %s", e.FunctionCode, uint8(e.ExceptionCode), e.ExceptionCode)
}

func invalidArgument(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Op: op, Err: fmt.Errorf(format, args...)}
}

func invalidRange(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidRange, Op: op, Err: fmt.Errorf(format, args...)}
}

// malformed reports a reply the transporter accepted but whose payload does
// not decode for the requested operation.
func malformed(op, format string, args ...any) error {
	return &Error{Kind: KindTransportException, Op: op, Err: fmt.Errorf(format, args...)}
}

// classify maps a transporter error onto the taxonomy. Errors that are
// already classified pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var me *ModbusError
	if errors.As(err, &me) {
		return &Error{Kind: KindProtocolException, Op: op, Err: err}
	}
	return &Error{Kind: KindTransportException, Op: op, Err: err}
}
