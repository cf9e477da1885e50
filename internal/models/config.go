package models

import "time"

// GlobalConfig is the single opaque, admin-managed document any
// authenticated caller may read.
type GlobalConfig struct {
	Doc       string    `json:"doc"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// ResourceSpec describes container resource requests, e.g. CPU: "0.5",
// Memory: "512Mi".
type ResourceSpec struct {
	CPU    string `json:"cpu,omitempty"`
	Memory string `json:"memory,omitempty"`
}
