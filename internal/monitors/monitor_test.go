package monitors

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leoscope/leoscope/internal/trigger"
)

type fakeSource struct {
	values map[string]trigger.Value
	err    error
	reads  int
}

func (f *fakeSource) Read(ctx context.Context) (map[string]trigger.Value, error) {
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	return f.values, nil
}

func TestMonitorWritesReadingsIntoSnapshot(t *testing.T) {
	snapshot := trigger.NewSnapshot()
	source := &fakeSource{values: map[string]trigger.Value{"satellite_elevation": {Kind: trigger.KindNumber, Num: 45}}}
	m := New("satellite", time.Hour, source, snapshot, nil)

	m.tick(context.Background())

	v, ok := snapshot.Get("satellite_elevation")
	if !ok || v.Num != 45 {
		t.Fatalf("expected satellite_elevation=45 in snapshot, got %+v ok=%v", v, ok)
	}
}

func TestMonitorKeepsLastKnownValueOnReadError(t *testing.T) {
	snapshot := trigger.NewSnapshot()
	snapshot.SetNumber("satellite_elevation", 45)
	source := &fakeSource{err: errors.New("dish unreachable")}
	m := New("satellite", time.Hour, source, snapshot, nil)

	m.tick(context.Background())

	v, ok := snapshot.Get("satellite_elevation")
	if !ok || v.Num != 45 {
		t.Fatalf("expected stale value 45 preserved on error, got %+v ok=%v", v, ok)
	}
}

type panickingSource struct{}

func (panickingSource) Read(ctx context.Context) (map[string]trigger.Value, error) {
	panic("boom")
}

func TestMonitorSurvivesSourcePanic(t *testing.T) {
	snapshot := trigger.NewSnapshot()
	m := New("terminal", time.Hour, panickingSource{}, snapshot, nil)

	m.tick(context.Background())
}

func TestSetAggregatesMultipleMonitorsIntoOneSnapshot(t *testing.T) {
	set := NewSet(nil)
	set.Add("satellite", time.Hour, &fakeSource{values: map[string]trigger.Value{"satellite_elevation": {Kind: trigger.KindNumber, Num: 10}}})
	set.Add("weather", time.Hour, &fakeSource{values: map[string]trigger.Value{"weather_wind_speed_kph": {Kind: trigger.KindNumber, Num: 5}}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	set.Run(ctx)

	if _, ok := set.Snapshot().Get("satellite_elevation"); !ok {
		t.Error("expected satellite_elevation written by first monitor")
	}
	if _, ok := set.Snapshot().Get("weather_wind_speed_kph"); !ok {
		t.Error("expected weather_wind_speed_kph written by second monitor")
	}
}

func TestIsObsoleteSatelliteField(t *testing.T) {
	cases := []struct {
		field string
		want  bool
	}{
		{"snr_persistently_low", true},
		{"uplink_throughput_snr", true},
		{"seconds_to_first_non_empty_slot", false},
		{"seconds_to_slot_end", true},
		{"pop_ping_latency_ms", false},
		{"elevation", false},
	}
	for _, c := range cases {
		if got := isObsoleteSatelliteField(c.field); got != c.want {
			t.Errorf("isObsoleteSatelliteField(%q) = %v, want %v", c.field, got, c.want)
		}
	}
}

func TestMapFieldsAppliesMappingAndDropsObsolete(t *testing.T) {
	raw := map[string]any{
		"elevation":   38.5,
		"state":       "CONNECTED",
		"snr_current": 4.0,
		"unmapped_ok": 1.0,
	}
	got := mapFields(raw, satelliteFieldMap, isObsoleteSatelliteField)

	if v, ok := got["satellite_elevation"]; !ok || v.Num != 38.5 {
		t.Errorf("expected satellite_elevation=38.5, got %+v ok=%v", v, ok)
	}
	if v, ok := got["satellite_state"]; !ok || v.Str != "CONNECTED" {
		t.Errorf("expected satellite_state=CONNECTED, got %+v ok=%v", v, ok)
	}
	if _, ok := got["snr_current"]; ok {
		t.Error("expected snr_current dropped as obsolete")
	}
	if v, ok := got["unmapped_ok"]; !ok || v.Num != 1.0 {
		t.Errorf("expected unmapped field passed through, got %+v ok=%v", v, ok)
	}
}

func TestReplaySourceCyclesThroughFixture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "satellite.jsonl")
	fixture := `{"elevation": 10, "state": "SEARCHING"}
{"elevation": 45, "state": "CONNECTED"}
`
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	source, err := NewSatelliteReplaySource(path)
	if err != nil {
		t.Fatalf("NewSatelliteReplaySource: %v", err)
	}

	first, err := source.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if first["satellite_elevation"].Num != 10 {
		t.Errorf("first reading elevation = %v, want 10", first["satellite_elevation"].Num)
	}

	second, _ := source.Read(context.Background())
	if second["satellite_elevation"].Num != 45 {
		t.Errorf("second reading elevation = %v, want 45", second["satellite_elevation"].Num)
	}

	third, _ := source.Read(context.Background())
	if third["satellite_elevation"].Num != 10 {
		t.Errorf("expected fixture to loop back to first reading, got %v", third["satellite_elevation"].Num)
	}
}

func TestNewReplaySourceRejectsEmptyFixture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.jsonl")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	if _, err := NewSatelliteReplaySource(path); err == nil {
		t.Error("expected error for empty fixture")
	}
}
