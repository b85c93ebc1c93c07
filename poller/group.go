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


package poller

import (
	"fmt"
	"sort"

	modbus "github.com/hootrhino/modbusmaster"
)

// Group is one read request covering adjacent or overlapping registers of
// the same unit and function.
type Group struct {
	UnitID    uint8
	Function  uint8
	Address   uint16
	Quantity  uint16
	Registers []Register
}

func (g Group) end() uint32 { return uint32(g.Address) + uint32(g.Quantity) }

// GroupRegisters sorts registers by unit, function and address and merges
// runs without address gaps into groups no larger than one request allows.
// Registers whose quantity cannot be resolved are rejected.
func GroupRegisters(registers []Register) ([]Group, error) {
	regs := make([]Register, len(registers))
	copy(regs, registers)
	for i := range regs {
		if err := regs[i].ResolveQuantity(); err != nil {
			return nil, fmt.Errorf("register %s: %w", regs[i].Tag, err)
		}
	}
	sort.SliceStable(regs, func(i, j int) bool {
		a, b := regs[i], regs[j]
		if a.UnitID != b.UnitID {
			return a.UnitID < b.UnitID
		}
		if a.Function != b.Function {
			return a.Function < b.Function
		}
		return a.Address < b.Address
	})

	var groups []Group
	for _, r := range regs {
		if n := len(groups); n > 0 && canJoin(groups[n-1], r) {
			g := &groups[n-1]
			if end := uint32(r.Address) + uint32(r.Quantity); end > g.end() {
				g.Quantity = uint16(end - uint32(g.Address))
			}
			g.Registers = append(g.Registers, r)
			continue
		}
		groups = append(groups, Group{
			UnitID:    r.UnitID,
			Function:  r.Function,
			Address:   r.Address,
			Quantity:  r.Quantity,
			Registers: []Register{r},
		})
	}
	return groups, nil
}

func canJoin(g Group, r Register) bool {
	if g.UnitID != r.UnitID || g.Function != r.Function {
		return false
	}
	if uint32(r.Address) > g.end() {
		return false
	}
	end := max(g.end(), uint32(r.Address)+uint32(r.Quantity))
	return end-uint32(g.Address) <= uint32(maxQuantity(r.Function))
}

// readGroup issues the group's request and slices the reply into copies of
// its registers. On failure every register is marked invalid.
func readGroup(api modbus.ModbusApi, g Group) ([]Register, error) {
	regs := make([]Register, len(g.Registers))
	copy(regs, g.Registers)

	var bits []bool
	var words []uint16
	var err error
	switch g.Function {
	case modbus.FuncCodeReadCoils:
		bits, err = api.ReadCoils(g.Address, g.Quantity)
	case modbus.FuncCodeReadDiscreteInputs:
		bits, err = api.ReadDiscreteInputs(g.Address, g.Quantity)
	case modbus.FuncCodeReadHoldingRegisters:
		words, err = api.ReadHoldingRegisters(g.Address, g.Quantity)
	case modbus.FuncCodeReadInputRegisters:
		words, err = api.ReadInputRegisters(g.Address, g.Quantity)
	default:
		err = fmt.Errorf("unsupported function code %d", g.Function)
	}
	if err != nil {
		return markInvalid(regs, err), fmt.Errorf("read unit %d function %d address %d: %w",
			g.UnitID, g.Function, g.Address, err)
	}

	for i := range regs {
		r := &regs[i]
		off, n := int(r.Address-g.Address), int(r.Quantity)
		if isBitFunction(g.Function) {
			r.Value = make([]byte, n)
			for j, b := range bits[off : off+n] {
				if b {
					r.Value[j] = 1
				}
			}
		} else {
			r.Value = make([]byte, 2*n)
			for j, w := range words[off : off+n] {
				r.Value[2*j] = byte(w >> 8)
				r.Value[2*j+1] = byte(w)
			}
		}
		r.Status = StatusValid
	}
	return regs, nil
}

func markInvalid(regs []Register, err error) []Register {
	for i := range regs {
		regs[i].Value = nil
		regs[i].Status = statusInvalidPrefix + err.Error()
	}
	return regs
}

// ReadGroups reads every group through master in order, binding each
// group to its unit. Copies made with WithUnit share the master's
// transporter, so the reads go out one after another. Registers come back
// in group order; failed groups are marked invalid and their errors
// collected.
func ReadGroups(master *modbus.Master, groups []Group) ([]Register, []error) {
	results := make([][]Register, len(groups))
	errs := make([]error, len(groups))

	read := func(i int) {
		g := groups[i]
		api, err := master.WithUnit(g.UnitID)
		if err != nil {
			regs := make([]Register, len(g.Registers))
			copy(regs, g.Registers)
			results[i], errs[i] = markInvalid(regs, err), err
			return
		}
		results[i], errs[i] = readGroup(api, g)
	}

	for i := range groups {
		read(i)
	}

	var out []Register
	var failed []error
	for i := range groups {
		out = append(out, results[i]...)
		if errs[i] != nil {
			failed = append(failed, errs[i])
		}
	}
	return out, failed
}
