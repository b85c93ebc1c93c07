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


// Package metrics exposes Prometheus collectors for Modbus master traffic
// and register polling.
package metrics

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	modbus "github.com/hootrhino/modbusmaster"
)

// Status label values
const (
	StatusSuccess   = "success"
	StatusException = "exception"
	StatusFailed    = "failed"
)

// Collectors groups every metric the master and the poller report.
type Collectors struct {
	// Requests counts exchanges by mode, function and status.
	Requests *prometheus.CounterVec
	// Exceptions counts exception replies by mode, function and code.
	Exceptions *prometheus.CounterVec
	Duration   *prometheus.HistogramVec

	PollCycles   *prometheus.CounterVec
	PollDuration prometheus.Histogram
	LastPoll     prometheus.Gauge
}

// New registers the collectors with reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_master_requests_total",
			Help: "The total number of Modbus requests issued by the master",
		}, []string{"mode", "function", "status"}),
		Exceptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_master_exceptions_total",
			Help: "The total number of exception replies received",
		}, []string{"mode", "function", "code"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modbus_master_request_duration_seconds",
			Help:    "Round trip time of Modbus requests",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"mode", "function"}),
		PollCycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_poll_cycles_total",
			Help: "The total number of register poll cycles",
		}, []string{"status"}),
		PollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "modbus_poll_cycle_duration_seconds",
			Help: "Duration of a register poll cycle",
		}),
		LastPoll: f.NewGauge(prometheus.GaugeOpts{
			Name: "modbus_poll_last_cycle_timestamp_seconds",
			Help: "Unix time of the last completed poll cycle",
		}),
	}
}

// ObservePoll records one finished poll cycle.
func (c *Collectors) ObservePoll(started time.Time, failed bool) {
	status := StatusSuccess
	if failed {
		status = StatusFailed
	}
	c.PollCycles.WithLabelValues(status).Inc()
	c.PollDuration.Observe(time.Since(started).Seconds())
	c.LastPoll.Set(float64(time.Now().Unix()))
}

// Transporter decorates a modbus.ModbusTransporter with request metrics.
type Transporter struct {
	next       modbus.ModbusTransporter
	collectors *Collectors
}

var _ modbus.ModbusTransporter = (*Transporter)(nil)

// Wrap returns next instrumented with c.
func Wrap(next modbus.ModbusTransporter, c *Collectors) *Transporter {
	return &Transporter{next: next, collectors: c}
}

// Mode reports the mode of the wrapped transporter.
func (t *Transporter) Mode() string { return t.next.Mode() }

// Transact forwards the exchange and records its outcome.
func (t *Transporter) Transact(unitID, functionCode uint8, payload []byte) ([]byte, error) {
	start := time.Now()
	resp, err := t.next.Transact(unitID, functionCode, payload)

	mode, function := t.next.Mode(), modbus.FunctionName(functionCode)
	t.collectors.Duration.WithLabelValues(mode, function).Observe(time.Since(start).Seconds())

	var me *modbus.ModbusError
	switch {
	case err == nil:
		t.collectors.Requests.WithLabelValues(mode, function, StatusSuccess).Inc()
	case errors.As(err, &me):
		t.collectors.Requests.WithLabelValues(mode, function, StatusException).Inc()
		t.collectors.Exceptions.WithLabelValues(mode, function, fmt.Sprintf("0x%02X", uint8(me.ExceptionCode))).Inc()
	default:
		t.collectors.Requests.WithLabelValues(mode, function, StatusFailed).Inc()
	}
	return resp, err
}

// Close closes the wrapped transporter when it holds a resource.
func (t *Transporter) Close() error {
	if c, ok := t.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
