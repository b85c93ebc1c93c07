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

package modbus

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log line.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelNone // Disables logging
)

var levelNames = [...]string{"DEBUG", "INFO", "WARNING", "ERROR", "NONE"}

func (l LogLevel) String() string {
	if l < LevelDebug || l > LevelNone {
		return fmt.Sprintf("LogLevel(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLogLevel accepts the level names case-insensitively, plus "WARN".
func ParseLogLevel(s string) (LogLevel, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARN" {
		return LevelWarning, nil
	}
	for i, n := range levelNames {
		if n == name {
			return LogLevel(i), nil
		}
	}
	return LevelNone, fmt.Errorf("invalid log level: %q, available levels: %s", s, strings.Join(levelNames[:], ", "))
}

// SimpleLogger is the io.Writer handed to masters and transporters. It
// infers the level of each line from a "DEBUG:", "INFO:", "WARNING:" or
// "ERROR:" prefix, found anywhere after a log.Logger prefix, and drops
// lines below the configured level.
type SimpleLogger struct {
	mu         sync.Mutex
	level      LogLevel
	output     io.Writer
	timeFormat string
	prefix     string
}

// NewSimpleLogger writes to os.Stdout when output is nil.
func NewSimpleLogger(output io.Writer, level LogLevel, prefix string) *SimpleLogger {
	if output == nil {
		output = os.Stdout
	}
	return &SimpleLogger{
		level:      level,
		output:     output,
		timeFormat: time.RFC3339,
		prefix:     prefix,
	}
}

func (l *SimpleLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *SimpleLogger) Level() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *SimpleLogger) Write(p []byte) (int, error) {
	level, message := splitLevel(strings.TrimSpace(string(p)))

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level == LevelNone || level < l.level {
		return len(p), nil
	}
	line := fmt.Sprintf("%s [%s] <%s> %s\n", time.Now().Format(l.timeFormat), level, l.prefix, message)
	if _, err := io.WriteString(l.output, line); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the output unless it is a standard stream.
func (l *SimpleLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.output == os.Stdout || l.output == os.Stderr {
		return nil
	}
	if c, ok := l.output.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var levelTags = []struct {
	tag   string
	level LogLevel
}{
	{"DEBUG:", LevelDebug},
	{"INFO:", LevelInfo},
	{"WARNING:", LevelWarning},
	{"WARN:", LevelWarning},
	{"ERROR:", LevelError},
}

// splitLevel finds the first level tag in message and removes it. Lines
// without a tag are INFO.
func splitLevel(message string) (LogLevel, string) {
	upper := strings.ToUpper(message)
	best, bestAt, bestTag := LevelInfo, -1, ""
	for _, t := range levelTags {
		if i := strings.Index(upper, t.tag); i >= 0 && (bestAt < 0 || i < bestAt) {
			best, bestAt, bestTag = t.level, i, t.tag
		}
	}
	if bestAt < 0 {
		return LevelInfo, message
	}
	return best, strings.TrimSpace(message[:bestAt] + strings.TrimSpace(message[bestAt+len(bestTag):]))
}
