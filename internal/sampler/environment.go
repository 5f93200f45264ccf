package sampler

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nerrad567/tsfeed/internal/tsstore"
)

// Sensor maps a numeric file (sysfs hwmon, 1-wire w1_slave value, IIO) to a
// record field. The reported value is raw*Scale + Offset.
type Sensor struct {
	Field     string  `yaml:"field"`
	Path      string  `yaml:"path"`
	Scale     float64 `yaml:"scale"`
	Offset    float64 `yaml:"offset"`
	Precision int     `yaml:"precision"`
}

// Environment reads a fixed set of sensor files. Every sensor must be
// readable for a sample to succeed.
type Environment struct {
	sensors []Sensor
}

// NewEnvironment validates the sensor list. A zero Scale means 1.
func NewEnvironment(sensors []Sensor) (*Environment, error) {
	if len(sensors) == 0 {
		return nil, ErrNoSensors
	}
	seen := make(map[string]bool, len(sensors))
	out := make([]Sensor, len(sensors))
	for i, s := range sensors {
		if s.Field == "" || s.Path == "" {
			return nil, fmt.Errorf("sensor %d: field and path are required", i)
		}
		if seen[s.Field] {
			return nil, fmt.Errorf("sensor %d: duplicate field %q", i, s.Field)
		}
		seen[s.Field] = true
		if s.Scale == 0 {
			s.Scale = 1
		}
		if s.Precision < 0 {
			s.Precision = 0
		}
		out[i] = s
	}
	return &Environment{sensors: out}, nil
}

// Sample reads all sensors in configuration order.
func (e *Environment) Sample(ctx context.Context) (tsstore.Record, error) {
	var b tsstore.RecordBuilder
	for _, s := range e.sensors {
		if err := ctx.Err(); err != nil {
			return tsstore.Record{}, err
		}
		raw, err := readNumber(s.Path)
		if err != nil {
			return tsstore.Record{}, fmt.Errorf("sensor %s: %w", s.Field, err)
		}
		v := raw*s.Scale + s.Offset
		if s.Precision > 0 {
			v = round(v, s.Precision)
		}
		b.Add(s.Field, v)
	}
	return b.Record(), nil
}

// readNumber parses the last whitespace-separated token of a file. For
// w1_slave files the token is "t=21375".
func readNumber(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: %s is empty", ErrParse, path)
	}
	tok := fields[len(fields)-1]
	if _, after, ok := strings.Cut(tok, "="); ok {
		tok = after
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrParse, path, err)
	}
	return v, nil
}
