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
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hootrhino/modbusmaster/poller"
)

type bitValue struct {
	Address uint16 `json:"address" yaml:"address"`
	Value   bool   `json:"value" yaml:"value"`
}

type registerValue struct {
	Address uint16 `json:"address" yaml:"address"`
	Value   uint16 `json:"value" yaml:"value"`
}

// encode writes v as json or yaml; any other format is rejected.
func encode(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", format)
}

func printBits(w io.Writer, format string, start uint16, values []bool) error {
	if format == "text" {
		for i, v := range values {
			fmt.Fprintf(w, "%5d  %v\n", int(start)+i, v)
		}
		return nil
	}
	out := make([]bitValue, len(values))
	for i, v := range values {
		out[i] = bitValue{Address: start + uint16(i), Value: v}
	}
	return encode(w, format, out)
}

func printRegisters(w io.Writer, format string, start uint16, values []uint16) error {
	if format == "text" {
		for i, v := range values {
			fmt.Fprintf(w, "%5d  0x%04X  %d\n", int(start)+i, v, v)
		}
		return nil
	}
	out := make([]registerValue, len(values))
	for i, v := range values {
		out[i] = registerValue{Address: start + uint16(i), Value: v}
	}
	return encode(w, format, out)
}

func printValue(w io.Writer, format, name string, v any) error {
	if format == "text" {
		_, err := fmt.Fprintf(w, "%s: %v\n", name, v)
		return err
	}
	return encode(w, format, map[string]any{name: v})
}

type pointView struct {
	Tag    string  `json:"tag" yaml:"tag"`
	Alias  string  `json:"alias,omitempty" yaml:"alias,omitempty"`
	UnitID uint8   `json:"unitId" yaml:"unitId"`
	Value  any     `json:"value,omitempty" yaml:"value,omitempty"`
	Scaled float64 `json:"scaled" yaml:"scaled"`
	Status string  `json:"status" yaml:"status"`
}

type cycleView struct {
	ID      string      `json:"id" yaml:"id"`
	Started time.Time   `json:"started" yaml:"started"`
	Points  []pointView `json:"points" yaml:"points"`
	Errors  []string    `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func viewCycle(c poller.Cycle) cycleView {
	v := cycleView{ID: c.ID, Started: c.Started, Errors: c.Errors}
	for _, r := range c.Registers {
		p := pointView{Tag: r.Tag, Alias: r.Alias, UnitID: r.UnitID, Status: r.Status}
		if r.Status == poller.StatusValid {
			if dv, err := r.Decode(); err != nil {
				p.Status = "INVALID:" + err.Error()
			} else {
				p.Value, p.Scaled = dv.AsType, dv.Float64
			}
		}
		v.Points = append(v.Points, p)
	}
	return v
}

// printCycle writes one cycle as a yaml document or a json line. Format
// "none" prints nothing.
func printCycle(w io.Writer, format string, c poller.Cycle) error {
	switch format {
	case "none":
		return nil
	case "yaml":
		if _, err := io.WriteString(w, "---\n"); err != nil {
			return err
		}
		return encode(w, format, viewCycle(c))
	case "json":
		return json.NewEncoder(w).Encode(viewCycle(c))
	}
	return fmt.Errorf("unknown output format %q", format)
}
