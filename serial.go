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
	"time"

	serial "github.com/hootrhino/goserial"
)

// SerialConfig describes a local serial line.
type SerialConfig struct {
	Address  string        `yaml:"address" toml:"address" validate:"required"`
	BaudRate int           `yaml:"baudRate" toml:"baudRate" validate:"gte=0"`
	DataBits int           `yaml:"dataBits" toml:"dataBits" validate:"omitempty,oneof=5 6 7 8"`
	StopBits int           `yaml:"stopBits" toml:"stopBits" validate:"omitempty,oneof=1 2"`
	Parity   string        `yaml:"parity" toml:"parity" validate:"omitempty,oneof=N E O"`
	Timeout  time.Duration `yaml:"timeout" toml:"timeout"`
}

// DefaultSerialConfig returns 9600 8N1 with a 300ms read timeout.
func DefaultSerialConfig(address string) SerialConfig {
	return SerialConfig{
		Address:  address,
		BaudRate: 9600,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  300 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultSerialConfig.
func (c SerialConfig) withDefaults() SerialConfig {
	d := DefaultSerialConfig(c.Address)
	if c.BaudRate == 0 {
		c.BaudRate = d.BaudRate
	}
	if c.DataBits == 0 {
		c.DataBits = d.DataBits
	}
	if c.StopBits == 0 {
		c.StopBits = d.StopBits
	}
	if c.Parity == "" {
		c.Parity = d.Parity
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// OpenSerialPort opens the line described by c. The caller owns the port
// and closes it.
func OpenSerialPort(c SerialConfig) (io.ReadWriteCloser, error) {
	if c.Address == "" {
		return nil, fmt.Errorf("modbus: serial address is required")
	}
	c = c.withDefaults()
	port, err := serial.Open(&serial.Config{
		Address:  c.Address,
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		StopBits: c.StopBits,
		Parity:   c.Parity,
		Timeout:  c.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("modbus: failed to open serial port %s: %w", c.Address, err)
	}
	return port, nil
}
