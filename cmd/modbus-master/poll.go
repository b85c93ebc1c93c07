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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	modbus "github.com/hootrhino/modbusmaster"
	"github.com/hootrhino/modbusmaster/metrics"
	"github.com/hootrhino/modbusmaster/poller"
)

func newPollCmd(a *app) *cobra.Command {
	var (
		registers string
		interval  time.Duration
		listen    string
		format    string
		once      bool
	)
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll a CSV register map until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("registers") {
				cfg.Poll.Registers = registers
			}
			if flags.Changed("interval") {
				cfg.Poll.Interval = interval
			}
			if flags.Changed("listen") {
				cfg.Metrics.Listen = listen
			}
			if flags.Changed("format") {
				cfg.Poll.Output = format
			}
			if cfg.Poll.Registers == "" {
				return errors.New("no register map: set --registers or poll.registers")
			}

			regs, err := poller.LoadCSV(cfg.Poll.Registers)
			if err != nil {
				return err
			}
			logger, err := openLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			mc := metrics.New(reg)

			m, closer, err := openMaster(cfg.Transport, logger, func(t modbus.ModbusTransporter) modbus.ModbusTransporter {
				return metrics.Wrap(t, mc)
			})
			if err != nil {
				return err
			}
			defer closer.Close()

			p, err := poller.New(m, poller.Options{Interval: cfg.Poll.Interval, Observer: mc, Logger: logger})
			if err != nil {
				return err
			}
			if err := p.Load(regs); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if once {
				return printCycle(out, cfg.Poll.Output, p.ReadOnce())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h := &health{}
			if cfg.Metrics.Listen != "" {
				srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: newRouter(reg, h, cfg.Metrics.Path)}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						fmt.Fprintf(logger, "ERROR: metrics server: %v\n", err)
					}
				}()
				defer srv.Shutdown(context.Background())
				fmt.Fprintf(logger, "INFO: serving metrics on %s%s\n", cfg.Metrics.Listen, cfg.Metrics.Path)
			}

			var outMu sync.Mutex
			p.SetOnData(func(c poller.Cycle) {
				h.update(c)
				outMu.Lock()
				defer outMu.Unlock()
				if err := printCycle(out, cfg.Poll.Output, c); err != nil {
					fmt.Fprintf(logger, "ERROR: %v\n", err)
				}
			})
			if err := p.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(logger, "INFO: polling %d groups every %v\n", len(p.Groups()), p.Interval())
			<-ctx.Done()
			p.Stop()
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&registers, "registers", "r", "", "CSV register map")
	f.DurationVarP(&interval, "interval", "i", 0, "poll period (default: smallest register frequency)")
	f.StringVar(&listen, "listen", "", "serve /metrics and /healthz on this address")
	f.StringVar(&format, "format", "yaml", "cycle output: yaml, json or none")
	f.BoolVar(&once, "once", false, "read every group once and exit")
	return cmd
}

func newRouter(reg *prometheus.Registry, h *health, metricsPath string) *mux.Router {
	r := mux.NewRouter()
	r.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	r.Handle("/healthz", h).Methods("GET")
	return r
}

// health reports the outcome of the latest poll cycle.
type health struct {
	mu     sync.Mutex
	cycle  string
	at     time.Time
	errors int
}

func (h *health) update(c poller.Cycle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cycle, h.at, h.errors = c.ID, c.Started, len(c.Errors)
}

type healthReport struct {
	Status string    `json:"status"`
	Cycle  string    `json:"cycle,omitempty"`
	At     time.Time `json:"at,omitempty"`
	Errors int       `json:"errors"`
}

// ServeHTTP answers 503 until the first cycle completes.
func (h *health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	report := healthReport{Status: "ok", Cycle: h.cycle, At: h.at, Errors: h.errors}
	h.mu.Unlock()

	code := http.StatusOK
	switch {
	case report.Cycle == "":
		report.Status, code = "starting", http.StatusServiceUnavailable
	case report.Errors > 0:
		report.Status = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(report)
}
