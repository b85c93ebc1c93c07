package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	modbus "github.com/hootrhino/modbusmaster"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "master.yaml", `
transport:
  type: serial
  address: /dev/ttyUSB0
  framing: ascii
  unitId: 17
  timeout: 250ms
  serial:
    baudRate: 19200
    parity: E
log:
  level: debug
poll:
  registers: registers.csv
  interval: 2s
metrics:
  listen: ":9100"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tr := cfg.Transport
	if tr.Type != "serial" || tr.Framing != "ascii" || tr.Engine != "native" {
		t.Errorf("transport = %+v", tr)
	}
	if tr.UnitID == nil || *tr.UnitID != 17 || tr.Timeout != 250*time.Millisecond {
		t.Errorf("unit/timeout = %v/%v", tr.UnitID, tr.Timeout)
	}
	if tr.Serial.Address != "/dev/ttyUSB0" || tr.Serial.BaudRate != 19200 || tr.Serial.Parity != "E" {
		t.Errorf("serial = %+v", tr.Serial)
	}
	if cfg.Poll.Interval != 2*time.Second || cfg.Poll.Output != "yaml" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("poll/metrics = %+v %+v", cfg.Poll, cfg.Metrics)
	}

	mc, err := tr.MasterConfig()
	if err != nil {
		t.Fatal(err)
	}
	if mc.Framing != modbus.FramingASCII || !mc.HasUnitID || mc.UnitID != 17 || mc.Timeout != 250*time.Millisecond {
		t.Errorf("master config = %+v", mc)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "master.toml", `
[transport]
type = "tcp"
address = "10.0.0.5:502"
engine = "goburrow"
timeout = "3s"

[log]
level = "WARN"
output = "stdout"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.Address != "10.0.0.5:502" || cfg.Transport.Engine != "goburrow" || cfg.Transport.Timeout != 3*time.Second {
		t.Errorf("transport = %+v", cfg.Transport)
	}
	if cfg.Transport.UnitID != nil {
		t.Errorf("unit id = %v, want unset", *cfg.Transport.UnitID)
	}
	mc, err := cfg.Transport.MasterConfig()
	if err != nil {
		t.Fatal(err)
	}
	if mc.HasUnitID || mc.Framing != modbus.FramingDefault {
		t.Errorf("master config = %+v", mc)
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name, file, content, wantErr string
	}{
		{"format", "master.json", `{}`, "unsupported config format"},
		{"yaml syntax", "a.yaml", "transport: [", "failed to parse YAML"},
		{"toml syntax", "a.toml", "transport = ", "failed to parse TOML"},
		{"type", "a.yaml", "transport:\n  type: can\n", "invalid configuration"},
		{"framing", "a.yaml", "transport:\n  framing: rtu-over-x\n", "invalid configuration"},
		{"engine", "a.yaml", "transport:\n  engine: libmodbus\n", "invalid configuration"},
		{"level", "a.yaml", "log:\n  level: loud\n", "invalid configuration"},
		{"parity", "a.yaml", "transport:\n  type: serial\n  address: COM3\n  serial:\n    parity: X\n", "invalid configuration"},
		{"listen", "a.yaml", "metrics:\n  listen: nowhere\n", "invalid configuration"},
		{"goburrow udp", "a.yaml", "transport:\n  type: udp\n  engine: goburrow\n", "does not support udp"},
		{"goburrow ascii", "a.yaml", "transport:\n  type: serial\n  address: COM1\n  framing: ascii\n  engine: goburrow\n", "does not support ascii"},
		{"udp rtu", "a.yaml", "transport:\n  type: udp\n  framing: rtu\n", "mbap framing only"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.file, tc.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not contain %q", err, tc.wantErr)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	cfg.Normalize()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
