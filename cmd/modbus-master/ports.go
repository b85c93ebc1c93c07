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

	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

func newPortsCmd() *cobra.Command {
	var details bool
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports usable as RTU or ASCII links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !details {
				ports, err := serial.GetPortsList()
				if err != nil {
					return fmt.Errorf("failed to list serial ports: %w", err)
				}
				if len(ports) == 0 {
					fmt.Fprintln(out, "no serial ports found")
				}
				for _, p := range ports {
					fmt.Fprintln(out, p)
				}
				return nil
			}

			ports, err := enumerator.GetDetailedPortsList()
			if err != nil {
				return fmt.Errorf("failed to list serial ports: %w", err)
			}
			if len(ports) == 0 {
				fmt.Fprintln(out, "no serial ports found")
			}
			for _, p := range ports {
				if p.IsUSB {
					fmt.Fprintf(out, "%s\tusb %s:%s serial %s\n", p.Name, p.VID, p.PID, p.SerialNumber)
				} else {
					fmt.Fprintln(out, p.Name)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&details, "details", false, "show USB vendor and product ids")
	return cmd
}
