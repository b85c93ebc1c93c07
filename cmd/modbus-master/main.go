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


// modbus-master issues Modbus requests and polls register maps from the
// command line.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	modbus "github.com/hootrhino/modbusmaster"
	"github.com/hootrhino/modbusmaster/internal/config"
)

var version = "dev"

// app holds the global flags shared by every sub-command.
type app struct {
	configFile string
	transport  string
	address    string
	framing    string
	engine     string
	unit       uint8
	timeout    time.Duration
	baudRate   int
	parity     string
	logLevel   string
	output     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "modbus-master",
		Short: "Modbus master over TCP, UDP and serial links",
		Long: `modbus-master sends typed Modbus requests to a single unit over
MBAP, RTU or ASCII framing and polls CSV register maps.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configFile, "config", "c", "", "config file (.yaml, .yml or .toml)")
	pf.StringVarP(&a.transport, "transport", "t", "tcp", "link type: tcp, udp or serial")
	pf.StringVarP(&a.address, "address", "a", "127.0.0.1:502", "host:port or serial device")
	pf.StringVar(&a.framing, "framing", "", "mbap, rtu or ascii (default depends on the link)")
	pf.StringVar(&a.engine, "engine", "native", "framing engine: native or goburrow")
	pf.Uint8VarP(&a.unit, "unit", "u", 0, "unit id (default 0 on MBAP, 1 on serial framings)")
	pf.DurationVar(&a.timeout, "timeout", time.Second, "per request timeout")
	pf.IntVar(&a.baudRate, "baud", 9600, "serial baud rate")
	pf.StringVar(&a.parity, "parity", "N", "serial parity: N, E or O")
	pf.StringVar(&a.logLevel, "log-level", "info", "debug, info, warning, error or none")
	pf.StringVarP(&a.output, "output", "o", "text", "output format: text, json or yaml")

	root.AddCommand(newOperationCmds(a)...)
	root.AddCommand(newPollCmd(a), newPortsCmd())
	return root
}

// loadConfig reads the config file, if any, and applies the flags the
// user set explicitly.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if a.configFile != "" {
		var err error
		if cfg, err = config.Load(a.configFile); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	t := &cfg.Transport
	if flags.Changed("transport") {
		t.Type = a.transport
	}
	if flags.Changed("address") {
		t.Address = a.address
		t.Serial.Address = a.address
	}
	if flags.Changed("framing") {
		t.Framing = a.framing
	}
	if flags.Changed("engine") {
		t.Engine = a.engine
	}
	if flags.Changed("unit") {
		unit := a.unit
		t.UnitID = &unit
	}
	if flags.Changed("timeout") {
		t.Timeout = a.timeout
	}
	if flags.Changed("baud") {
		t.Serial.BaudRate = a.baudRate
	}
	if flags.Changed("parity") {
		t.Serial.Parity = a.parity
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}

	cfg.Normalize()
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openLogger builds the SimpleLogger described by c. Closing it closes a
// log file but never stdout or stderr.
func openLogger(c config.Log) (*modbus.SimpleLogger, error) {
	level, err := modbus.ParseLogLevel(c.Level)
	if err != nil {
		return nil, err
	}
	var out io.Writer
	switch c.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}
	prefix := c.Prefix
	if prefix == "" {
		prefix = "modbus-master"
	}
	return modbus.NewSimpleLogger(out, level, prefix), nil
}

// withMaster connects, runs fn and releases the connection.
func (a *app) withMaster(cmd *cobra.Command, fn func(*modbus.Master) error) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := openLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()

	m, closer, err := openMaster(cfg.Transport, logger, nil)
	if err != nil {
		return err
	}
	defer closer.Close()
	return fn(m)
}
