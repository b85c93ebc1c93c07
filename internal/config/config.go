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


// Package config loads the modbus-master configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	modbus "github.com/hootrhino/modbusmaster"
)

// Config is the root of the configuration file.
type Config struct {
	Transport Transport `yaml:"transport" toml:"transport"`
	Log       Log       `yaml:"log" toml:"log"`
	Poll      Poll      `yaml:"poll" toml:"poll"`
	Metrics   Metrics   `yaml:"metrics" toml:"metrics"`
}

// Transport selects the link and framing to a device.
type Transport struct {
	Type            string              `yaml:"type" toml:"type" validate:"required,oneof=tcp udp serial"`
	Address         string              `yaml:"address" toml:"address" validate:"required"` // host:port or device path
	Framing         string              `yaml:"framing" toml:"framing" validate:"omitempty,oneof=mbap tcp rtu ascii"`
	Engine          string              `yaml:"engine" toml:"engine" validate:"oneof=native goburrow"`
	UnitID          *uint8              `yaml:"unitId" toml:"unitId"`
	Timeout         time.Duration       `yaml:"timeout" toml:"timeout" validate:"gte=0"`
	InterFrameDelay time.Duration       `yaml:"interFrameDelay" toml:"interFrameDelay" validate:"gte=0"`
	Serial          modbus.SerialConfig `yaml:"serial" toml:"serial"`
}

// Log configures the SimpleLogger.
type Log struct {
	Level  string `yaml:"level" toml:"level" validate:"oneof=debug info warning warn error none DEBUG INFO WARNING WARN ERROR NONE"`
	Output string `yaml:"output" toml:"output"` // stdout, stderr or a file path
	Prefix string `yaml:"prefix" toml:"prefix"`
}

// Poll configures register polling.
type Poll struct {
	Registers string        `yaml:"registers" toml:"registers"` // CSV register map
	Interval  time.Duration `yaml:"interval" toml:"interval" validate:"gte=0"`
	Output    string        `yaml:"output" toml:"output" validate:"oneof=yaml json none"`
}

// Metrics configures the HTTP endpoint serving Prometheus metrics.
type Metrics struct {
	Listen string `yaml:"listen" toml:"listen" validate:"omitempty,hostname_port"`
	Path   string `yaml:"path" toml:"path" validate:"startswith=/"`
}

// Default returns a configuration for a Modbus TCP device on localhost.
func Default() *Config {
	return &Config{
		Transport: Transport{
			Type:    "tcp",
			Address: "127.0.0.1:502",
			Engine:  "native",
			Timeout: time.Second,
		},
		Log:     Log{Level: "info", Output: "stderr"},
		Poll:    Poll{Output: "yaml"},
		Metrics: Metrics{Path: "/metrics"},
	}
}

// Load reads a YAML or TOML file, chosen by extension, over the defaults
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	cfg.Normalize()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Normalize fills values that depend on other fields.
func (c *Config) Normalize() {
	if c.Transport.Engine == "" {
		c.Transport.Engine = "native"
	}
	if c.Transport.Serial.Address == "" {
		c.Transport.Serial.Address = c.Transport.Address
	}
}

// Validate checks field constraints and the combinations they cannot
// express.
func Validate(c *Config) error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	t := c.Transport
	if t.Engine == "goburrow" {
		switch {
		case t.Type == "udp":
			return fmt.Errorf("engine goburrow does not support udp")
		case t.Framing == "ascii":
			return fmt.Errorf("engine goburrow does not support ascii framing")
		}
	}
	if t.Type == "udp" && t.Framing != "" && t.Framing != "mbap" && t.Framing != "tcp" {
		return fmt.Errorf("udp links carry mbap framing only")
	}
	return nil
}

// MasterConfig converts the transport section for modbus constructors.
func (t Transport) MasterConfig() (modbus.Config, error) {
	framing, err := modbus.ParseFraming(t.Framing)
	if err != nil {
		return modbus.Config{}, err
	}
	cfg := modbus.DefaultConfig()
	cfg.Framing = framing
	if t.Timeout > 0 {
		cfg.Timeout = t.Timeout
	}
	cfg.InterFrameDelay = t.InterFrameDelay
	if t.UnitID != nil {
		cfg = cfg.WithUnit(*t.UnitID)
	}
	return cfg, nil
}
