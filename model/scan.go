package model

import (
	"time"
)

// ScanState is a position in the upload controller's state machine.
type ScanState string

const (
	StateIdle         ScanState = "idle"
	StateFileSelected ScanState = "file_selected"
	StateValidating   ScanState = "validating"
	StateScanning     ScanState = "scanning"
	StateResultReady  ScanState = "result_ready"
	StateScanFailed   ScanState = "scan_failed"
)

// Terminal reports whether the state ends a scan.
func (s ScanState) Terminal() bool {
	return s == StateResultReady || s == StateScanFailed
}

// Scan is a point-in-time copy of one controller's state.
type Scan struct {
	ID        string         `json:"id,omitempty"`
	Filename  string         `json:"filename,omitempty"`
	State     ScanState      `json:"state"`
	Record    *ContactRecord `json:"record,omitempty"`
	Err       error          `json:"-"`
	StartedAt time.Time      `json:"started_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}
