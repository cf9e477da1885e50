package monitors

import (
	"strings"
	"time"
)

// SatelliteInterval is the polling cadence spec.md section 4.8 assigns
// the satellite monitor (1-5s).
const SatelliteInterval = 2 * time.Second

// satelliteFieldMap renames the dish status/history fields
// starlink_ping_monitor.py polls onto the fixed snapshot keys spec.md's
// supplemented monitor section names.
var satelliteFieldMap = fieldMap{
	"state":                           "satellite_state",
	"uptime_s":                        "satellite_uptime_s",
	"fraction_obstructed":             "satellite_fraction_obstructed",
	"downlink_throughput_bps":         "satellite_downlink_bps",
	"uplink_throughput_bps":           "satellite_uplink_bps",
	"pop_ping_latency_ms":             "pop_ping_latency_ms",
	"pop_ping_drop_rate":              "pop_ping_drop_rate",
	"seconds_to_first_non_empty_slot": "seconds_to_first_non_empty_slot",
	"elevation":                       "satellite_elevation",
	"alerts_bitmask":                  "satellite_alerts",
}

// isObsoleteSatelliteField mirrors starlink_ping_monitor.py's
// is_obsolete_field: drop *snr* fields and seconds_to_* fields other than
// seconds_to_first_non_empty_slot, which is explicitly kept.
func isObsoleteSatelliteField(name string) bool {
	if name == "seconds_to_first_non_empty_slot" {
		return false
	}
	lower := strings.ToLower(name)
	if strings.Contains(lower, "snr") {
		return true
	}
	return strings.HasPrefix(name, "seconds_to_")
}

// NewSatelliteSource polls a dish status bridge at endpoint. LEOScope
// vendors no dish gRPC client (starlink-grpc-tools is a standalone Python
// dependency outside this module's stack), so production deployments
// front the dish with a small bridge that republishes its status/history
// RPCs as this JSON shape.
func NewSatelliteSource(endpoint string) Source {
	return newHTTPJSONSource(endpoint, satelliteFieldMap, isObsoleteSatelliteField)
}
