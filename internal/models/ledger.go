package models

import "time"

// FileType distinguishes a full snapshot from a partial diff update.
type FileType string

const (
	FileTypeJSON     FileType = "json"
	FileTypeDiffJSON FileType = "diffjson"
)

// ProcessedFile is a File-Tracking Ledger row: one per source artifact the
// loader has already folded into the warehouse.
type ProcessedFile struct {
	RelativePath string
	Checksum     string
	FileType     FileType
	ProcessedAt  time.Time
}
