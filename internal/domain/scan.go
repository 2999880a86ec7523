package domain

import "time"

// ScanRange is the ingestor's high-water mark for one (chain, token)
// stream. LastScannedBlock only moves forward; the ingestor re-reads a
// rewind margin below it every cycle to absorb shallow reorgs.
type ScanRange struct {
	Chain            string    `json:"chain" db:"chain"`
	Token            string    `json:"token" db:"token"`
	LastScannedBlock int64     `json:"last_scanned_block" db:"last_scanned_block"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}
