package monitors

import "time"

// WeatherInterval is the polling cadence spec.md section 4.8 assigns the
// weather monitor (60s).
const WeatherInterval = 60 * time.Second

// weatherFieldMap has no original_source precedent (starlink_ping_monitor
// only covers the dish), so its keys are named analogously to the
// satellite fields per SPEC_FULL.md's supplemented monitor section.
var weatherFieldMap = fieldMap{
	"wind_speed_kph":   "weather_wind_speed_kph",
	"wind_gust_kph":    "weather_wind_gust_kph",
	"temperature_c":    "weather_temperature_c",
	"precipitation_mm": "weather_precipitation_mm",
	"cloud_cover_pct":  "weather_cloud_cover_pct",
}

// NewWeatherSource polls a local weather station or forecast bridge at
// endpoint for the fields weather_* trigger expressions may reference.
func NewWeatherSource(endpoint string) Source {
	return newHTTPJSONSource(endpoint, weatherFieldMap, nil)
}
