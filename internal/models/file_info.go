package models

import "time"

// File status values.
const (
	FileStatusUploaded = "uploaded"
	FileStatusBuilding = "building"
	FileStatusBuilt    = "built"
	FileStatusError    = "error"
)

// FileInfo represents metadata about an uploaded log file.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	Status     string    `json:"status"` // "uploaded", "building", "built", "error"
}
