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


package main

import (
	"fmt"
	"io"
	"log"
	"net"

	gbmodbus "github.com/goburrow/modbus"
	gbserial "github.com/goburrow/serial"

	modbus "github.com/hootrhino/modbusmaster"
	"github.com/hootrhino/modbusmaster/internal/config"
)

type decorator = func(modbus.ModbusTransporter) modbus.ModbusTransporter

// openMaster connects the link described by t. The returned closer
// releases the connection; the Master never closes it.
func openMaster(t config.Transport, logger io.Writer, decorate decorator) (*modbus.Master, io.Closer, error) {
	mc, err := t.MasterConfig()
	if err != nil {
		return nil, nil, err
	}
	mc.Logger = logger
	mc.Decorate = decorate
	if t.Engine == "goburrow" {
		return openGoburrow(t, mc, logger)
	}

	switch t.Type {
	case "tcp":
		conn, err := net.DialTimeout("tcp", t.Address, mc.Timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect %s: %w", t.Address, err)
		}
		m, err := modbus.NewTCPMaster(conn, mc)
		return keep(m, conn, err)
	case "udp":
		raddr, err := net.ResolveUDPAddr("udp", t.Address)
		if err != nil {
			return nil, nil, err
		}
		conn, err := net.DialUDP("udp", nil, raddr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect %s: %w", t.Address, err)
		}
		m, err := modbus.NewUDPMaster(conn, mc)
		return keep(m, conn, err)
	case "serial":
		port, err := modbus.OpenSerialPort(t.Serial)
		if err != nil {
			return nil, nil, err
		}
		m, err := modbus.NewSerialMaster(port, mc)
		return keep(m, port, err)
	}
	return nil, nil, fmt.Errorf("unknown transport type %q", t.Type)
}

// keep returns the master with its connection, or closes the connection
// when the master could not be built.
func keep(m *modbus.Master, c io.Closer, err error) (*modbus.Master, io.Closer, error) {
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return m, c, nil
}

// openGoburrow frames through github.com/goburrow/modbus handlers, which
// dial on the first request.
func openGoburrow(t config.Transport, mc modbus.Config, logger io.Writer) (*modbus.Master, io.Closer, error) {
	var gt *modbus.GoburrowTransporter
	unitID := modbus.DefaultIPUnitID
	switch t.Type {
	case "tcp":
		h := gbmodbus.NewTCPClientHandler(t.Address)
		if mc.Timeout > 0 {
			h.Timeout = mc.Timeout
		}
		if logger != nil {
			h.Logger = log.New(logger, "DEBUG: [goburrow] ", 0)
		}
		gt = modbus.NewGoburrowTCPTransporter(h)
	case "serial":
		s := t.Serial
		gt = modbus.NewGoburrowRTUTransporter(gbserial.Config{
			Address:  s.Address,
			BaudRate: s.BaudRate,
			DataBits: s.DataBits,
			StopBits: s.StopBits,
			Parity:   s.Parity,
			Timeout:  s.Timeout,
		})
		unitID = modbus.DefaultSerialUnitID
	default:
		return nil, nil, fmt.Errorf("engine goburrow does not support %s links", t.Type)
	}
	if mc.HasUnitID {
		unitID = mc.UnitID
	}

	var tr modbus.ModbusTransporter = gt
	if mc.Decorate != nil {
		tr = mc.Decorate(tr)
	}
	m, err := modbus.NewMaster(tr, unitID, logger)
	return keep(m, gt, err)
}
