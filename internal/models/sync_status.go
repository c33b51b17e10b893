package models

import "time"

type Connectivity string

const (
	ConnectivityUnknown Connectivity = "unknown"
	ConnectivityOnline  Connectivity = "online"
	ConnectivityOffline Connectivity = "offline"
)

// SyncStatus is a snapshot of the background scheduler.
type SyncStatus struct {
	Running      bool         `json:"running"`
	Connectivity Connectivity `json:"connectivity"`
	Pending      []string     `json:"pending"`
	LastProbe    *time.Time   `json:"last_probe,omitempty"`
	LastPassAt   *time.Time   `json:"last_pass_at,omitempty"`
	LastPass     *SyncResult  `json:"last_pass,omitempty"`
}
