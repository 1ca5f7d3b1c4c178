package sqlcgen

import "time"

type StaticMapping struct {
	MAC       string
	Hostname  string
	UpdatedAt time.Time
}

type HostnameAssignment struct {
	ID         int64
	MAC        string
	Hostname   string
	IP         string
	Source     string
	Renamed    bool
	AssignedAt time.Time
}
