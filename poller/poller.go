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


// Package poller reads register maps from Modbus units at a fixed
// interval through a modbus.Master.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	modbus "github.com/hootrhino/modbusmaster"
)

// DefaultInterval is used when neither the options nor the registers name
// a polling period.
const DefaultInterval = time.Second

// OnDataFunc receives every completed poll cycle.
type OnDataFunc func(Cycle)

// OnErrorFunc receives every failed group read.
type OnErrorFunc func(error)

// Observer is told about every finished cycle. *metrics.Collectors
// implements it.
type Observer interface {
	ObservePoll(started time.Time, failed bool)
}

// Cycle is the outcome of reading every group once.
type Cycle struct {
	ID        string     `json:"id" yaml:"id"`
	Started   time.Time  `json:"started" yaml:"started"`
	Registers []Register `json:"registers" yaml:"registers"`
	Errors    []string   `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Options configure a Poller.
type Options struct {
	Interval   time.Duration // zero picks the smallest register frequency
	BufferSize int
	Observer   Observer
	Logger     io.Writer
}

// Poller groups a register map and reads it periodically.
type Poller struct {
	master   *modbus.Master
	interval time.Duration
	observer Observer
	logger   io.Writer

	mu      sync.Mutex
	groups  []Group
	onData  OnDataFunc
	onError OnErrorFunc
	running bool

	cycles chan Cycle
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Poller reading through master.
func New(master *modbus.Master, opts Options) (*Poller, error) {
	if master == nil {
		return nil, errors.New("poller: master is nil")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 16
	}
	return &Poller{
		master:   master,
		interval: opts.Interval,
		observer: opts.Observer,
		logger:   opts.Logger,
		cycles:   make(chan Cycle, opts.BufferSize),
	}, nil
}

// Load validates and groups registers, replacing any loaded before.
func (p *Poller) Load(registers []Register) error {
	if len(registers) == 0 {
		return errors.New("poller: no registers")
	}
	regs := make([]Register, len(registers))
	copy(regs, registers)
	tags := make(map[string]bool, len(regs))
	var shortest uint64
	for i := range regs {
		if err := regs[i].Validate(); err != nil {
			return fmt.Errorf("poller: %w", err)
		}
		if tags[regs[i].Tag] {
			return fmt.Errorf("poller: duplicate tag: %s", regs[i].Tag)
		}
		tags[regs[i].Tag] = true
		if f := regs[i].Frequency; f > 0 && (shortest == 0 || f < shortest) {
			shortest = f
		}
	}
	groups, err := GroupRegisters(regs)
	if err != nil {
		return fmt.Errorf("poller: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.groups = groups
	if p.interval == 0 && shortest > 0 {
		p.interval = time.Duration(shortest) * time.Millisecond
	}
	return nil
}

// Groups returns the loaded read groups.
func (p *Poller) Groups() []Group {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Group(nil), p.groups...)
}

// Interval returns the polling period.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interval <= 0 {
		return DefaultInterval
	}
	return p.interval
}

func (p *Poller) SetOnData(fn OnDataFunc) {
	p.mu.Lock()
	p.onData = fn
	p.mu.Unlock()
}

func (p *Poller) SetOnError(fn OnErrorFunc) {
	p.mu.Lock()
	p.onError = fn
	p.mu.Unlock()
}

func (p *Poller) callbacks() (OnDataFunc, OnErrorFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onData, p.onError
}

func (p *Poller) logf(format string, args ...any) {
	if p.logger != nil {
		fmt.Fprintf(p.logger, format+"\n", args...)
	}
}

// ReadOnce reads every group now. Group failures are reported to the
// error callback and listed in the cycle.
func (p *Poller) ReadOnce() Cycle {
	groups := p.Groups()
	c := Cycle{ID: uuid.NewString(), Started: time.Now()}
	regs, errs := ReadGroups(p.master, groups)
	c.Registers = regs

	_, onError := p.callbacks()
	for _, err := range errs {
		c.Errors = append(c.Errors, err.Error())
		p.logf("WARNING: poll %s: %v", c.ID, err)
		if onError != nil {
			onError(err)
		}
	}
	p.logf("DEBUG: poll %s: %d groups, %d registers, %d errors", c.ID, len(groups), len(regs), len(errs))
	if p.observer != nil {
		p.observer.ObservePoll(c.Started, len(errs) > 0)
	}
	return c
}

// Start polls immediately and then every Interval until ctx ends or Stop
// is called. Cycles reach the data callback from a separate goroutine.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("poller: already running")
	}
	if len(p.groups) == 0 {
		return errors.New("poller: no registers loaded")
	}
	p.running = true
	p.stopCh = make(chan struct{})

	p.wg.Add(2)
	go p.dispatch(ctx, p.stopCh)
	go p.poll(ctx, p.stopCh)
	return nil
}

func (p *Poller) dispatch(ctx context.Context, stop <-chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case c := <-p.cycles:
			if onData, _ := p.callbacks(); onData != nil {
				onData(c)
			}
		}
	}
}

func (p *Poller) poll(ctx context.Context, stop <-chan struct{}) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()
	for {
		select {
		case p.cycles <- p.ReadOnce():
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
		select {
		case <-ticker.C:
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends polling and waits for both goroutines. It is safe to call
// more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}
