package monitors

import "time"

// TerminalInterval is the polling cadence spec.md section 4.8 assigns the
// terminal telemetry monitor (1s) — the ground terminal's own hardware
// health, not to be confused with `leoctl run exec`'s pty session.
const TerminalInterval = time.Second

// terminalFieldMap has no original_source precedent; named analogously to
// the satellite fields per SPEC_FULL.md's supplemented monitor section.
var terminalFieldMap = fieldMap{
	"temperature_c": "terminal_temperature_c",
	"power_watts":   "terminal_power_watts",
	"link_up":       "terminal_link_up",
	"reboot_count":  "terminal_reboot_count",
}

// NewTerminalSource polls the terminal hardware's own health endpoint.
func NewTerminalSource(endpoint string) Source {
	return newHTTPJSONSource(endpoint, terminalFieldMap, nil)
}
