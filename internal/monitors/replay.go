package monitors

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/leoscope/leoscope/internal/trigger"
)

// ReplaySource drives a monitor from a canned sequence of readings instead
// of a live source, grounded on starlink_ping_monitor_demo.py's simulated
// dish data. Each line of the fixture file is a JSON object of raw field
// values, in the same shape a live httpJSONSource would decode; ReplaySource
// applies the same field mapping so `leoctl monitor replay` exercises the
// production filtering path.
type ReplaySource struct {
	mapping  fieldMap
	obsolete func(string) bool

	mu       sync.Mutex
	readings []map[string]any
	pos      int
}

// NewReplaySource loads newline-delimited JSON readings from path and
// returns a Source that cycles through them once per Read call, looping
// back to the start after the last one.
func NewReplaySource(path string, mapping fieldMap, obsolete func(string) bool) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening replay fixture: %w", err)
	}
	defer f.Close()

	var readings []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var reading map[string]any
		if err := json.Unmarshal(line, &reading); err != nil {
			return nil, fmt.Errorf("parsing replay fixture line: %w", err)
		}
		readings = append(readings, reading)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading replay fixture: %w", err)
	}
	if len(readings) == 0 {
		return nil, fmt.Errorf("replay fixture %s has no readings", path)
	}

	return &ReplaySource{mapping: mapping, obsolete: obsolete, readings: readings}, nil
}

// Read returns the next canned reading, looping back to the first once the
// fixture is exhausted.
func (r *ReplaySource) Read(ctx context.Context) (map[string]trigger.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reading := r.readings[r.pos]
	r.pos = (r.pos + 1) % len(r.readings)

	obsolete := r.obsolete
	if obsolete == nil {
		obsolete = func(string) bool { return false }
	}
	return mapFields(reading, r.mapping, obsolete), nil
}

// NewSatelliteReplaySource loads a satellite fixture, applying the same
// field mapping and obsolete-field filter production dish polling uses.
func NewSatelliteReplaySource(path string) (*ReplaySource, error) {
	return NewReplaySource(path, satelliteFieldMap, isObsoleteSatelliteField)
}
