package models

import "time"

// Node is a registered LEO-terminal test point running the node agent.
type Node struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"display_name"`
	Lat             float64   `json:"lat"`
	Lon             float64   `json:"lon"`
	Location        string    `json:"location,omitempty"`
	Provider        string    `json:"provider,omitempty"`
	PublicIP        string    `json:"public_ip,omitempty"`
	ScavengerActive bool      `json:"scavenger_active"`
	LastActiveAt    time.Time `json:"last_active_ts"`
	RegisteredAt    time.Time `json:"registered_at"`
}
