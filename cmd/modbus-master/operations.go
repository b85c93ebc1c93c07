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
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	modbus "github.com/hootrhino/modbusmaster"
)

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid 16-bit value %q", s)
	}
	return uint16(v), nil
}

func parseUint16s(args []string) ([]uint16, error) {
	out := make([]uint16, len(args))
	for i, s := range args {
		v, err := parseUint16(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseCoil(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "on", "true":
		return true, nil
	case "0", "off", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid coil value %q (want on/off, true/false or 1/0)", s)
}

func parseCoils(args []string) ([]bool, error) {
	out := make([]bool, len(args))
	for i, s := range args {
		v, err := parseCoil(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// addressQuantity parses the ADDRESS QUANTITY pair of the read commands.
func addressQuantity(args []string) (uint16, uint16, error) {
	address, err := parseUint16(args[0])
	if err != nil {
		return 0, 0, err
	}
	quantity, err := parseUint16(args[1])
	if err != nil {
		return 0, 0, err
	}
	return address, quantity, nil
}

func newOperationCmds(a *app) []*cobra.Command {
	readBits := func(use, short string, read func(*modbus.Master, uint16, uint16) ([]bool, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " ADDRESS QUANTITY",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				address, quantity, err := addressQuantity(args)
				if err != nil {
					return err
				}
				return a.withMaster(cmd, func(m *modbus.Master) error {
					values, err := read(m, address, quantity)
					if err != nil {
						return err
					}
					return printBits(cmd.OutOrStdout(), a.output, address, values)
				})
			},
		}
	}
	readRegisters := func(use, short string, read func(*modbus.Master, uint16, uint16) ([]uint16, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " ADDRESS QUANTITY",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				address, quantity, err := addressQuantity(args)
				if err != nil {
					return err
				}
				return a.withMaster(cmd, func(m *modbus.Master) error {
					values, err := read(m, address, quantity)
					if err != nil {
						return err
					}
					return printRegisters(cmd.OutOrStdout(), a.output, address, values)
				})
			},
		}
	}

	return []*cobra.Command{
		readBits("read-coils", "Read coils (FC 1)", (*modbus.Master).ReadCoils),
		readBits("read-discrete-inputs", "Read discrete inputs (FC 2)", (*modbus.Master).ReadDiscreteInputs),
		readRegisters("read-holding-registers", "Read holding registers (FC 3)", (*modbus.Master).ReadHoldingRegisters),
		readRegisters("read-input-registers", "Read input registers (FC 4)", (*modbus.Master).ReadInputRegisters),
		{
			Use:   "write-coil ADDRESS on|off",
			Short: "Write a single coil (FC 5)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				address, err := parseUint16(args[0])
				if err != nil {
					return err
				}
				value, err := parseCoil(args[1])
				if err != nil {
					return err
				}
				return a.withMaster(cmd, func(m *modbus.Master) error {
					return m.WriteSingleCoil(address, value)
				})
			},
		},
		{
			Use:   "write-register ADDRESS VALUE",
			Short: "Write a single holding register (FC 6)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				values, err := parseUint16s(args)
				if err != nil {
					return err
				}
				return a.withMaster(cmd, func(m *modbus.Master) error {
					return m.WriteSingleRegister(values[0], values[1])
				})
			},
		},
		{
			Use:   "write-coils ADDRESS VALUE...",
			Short: "Write multiple coils (FC 15)",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				address, err := parseUint16(args[0])
				if err != nil {
					return err
				}
				values, err := parseCoils(args[1:])
				if err != nil {
					return err
				}
				return a.withMaster(cmd, func(m *modbus.Master) error {
					return m.WriteMultipleCoils(address, values)
				})
			},
		},
		{
			Use:   "write-registers ADDRESS VALUE...",
			Short: "Write multiple holding registers (FC 16)",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				values, err := parseUint16s(args)
				if err != nil {
					return err
				}
				return a.withMaster(cmd, func(m *modbus.Master) error {
					return m.WriteMultipleRegisters(values[0], values[1:])
				})
			},
		},
		{
			Use:   "read-write-registers READ_ADDRESS READ_QUANTITY WRITE_ADDRESS VALUE...",
			Short: "Write then read holding registers in one request (FC 23)",
			Args:  cobra.MinimumNArgs(4),
			RunE: func(cmd *cobra.Command, args []string) error {
				values, err := parseUint16s(args)
				if err != nil {
					return err
				}
				return a.withMaster(cmd, func(m *modbus.Master) error {
					read, err := m.ReadWriteMultipleRegisters(values[0], values[1], values[2], values[3:])
					if err != nil {
						return err
					}
					return printRegisters(cmd.OutOrStdout(), a.output, values[0], read)
				})
			},
		},
		{
			Use:   "read-exception-status",
			Short: "Read the eight exception status outputs (FC 7)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withMaster(cmd, func(m *modbus.Master) error {
					status, err := m.ReadExceptionStatus()
					if err != nil {
						return err
					}
					return printValue(cmd.OutOrStdout(), a.output, "status", status)
				})
			},
		},
		{
			Use:   "mask-write-register ADDRESS AND_MASK OR_MASK",
			Short: "Modify a holding register with AND and OR masks (FC 22)",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				values, err := parseUint16s(args)
				if err != nil {
					return err
				}
				return a.withMaster(cmd, func(m *modbus.Master) error {
					return m.MaskWriteRegister(values[0], values[1], values[2])
				})
			},
		},
		{
			Use:   "custom FUNCTION_CODE [HEX_PAYLOAD]",
			Short: "Send a raw request and print the reply payload",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				fc, err := strconv.ParseUint(args[0], 0, 8)
				if err != nil {
					return fmt.Errorf("invalid function code %q", args[0])
				}
				var payload []byte
				if len(args) == 2 {
					if payload, err = hex.DecodeString(strings.ReplaceAll(args[1], " ", "")); err != nil {
						return fmt.Errorf("invalid hex payload: %w", err)
					}
				}
				return a.withMaster(cmd, func(m *modbus.Master) error {
					reply, err := m.ExecuteCustom(uint8(fc), payload)
					if err != nil {
						return err
					}
					return printValue(cmd.OutOrStdout(), a.output, "payload", strings.ToUpper(hex.EncodeToString(reply)))
				})
			},
		},
	}
}
