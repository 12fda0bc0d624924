package models

// BuildStatus represents the status of a dictionary build session.
type BuildStatus string

const (
	BuildStatusPending    BuildStatus = "pending"
	BuildStatusReading    BuildStatus = "reading"
	BuildStatusBuilding   BuildStatus = "building"
	BuildStatusPersisting BuildStatus = "persisting"
	BuildStatusComplete   BuildStatus = "complete"
	BuildStatusError      BuildStatus = "error"
)

// Done reports whether the status is terminal.
func (s BuildStatus) Done() bool {
	return s == BuildStatusComplete || s == BuildStatusError
}

// BuildRequest asks for a dictionary build of an uploaded file.
type BuildRequest struct {
	FileID            string `json:"fileId"`
	Format            string `json:"format,omitempty"` // format name, "auto" or "whitespace"
	Workers           int    `json:"workers,omitempty"`
	TolerateMalformed bool   `json:"tolerateMalformed,omitempty"`
	Persist           *bool  `json:"persist,omitempty"` // nil uses the server default
}

// BuildSession represents one asynchronous dictionary build.
type BuildSession struct {
	ID               string       `json:"id"`
	FileID           string       `json:"fileId"`
	Status           BuildStatus  `json:"status"`
	Progress         float64      `json:"progress"` // 0-100
	Format           string       `json:"format,omitempty"`
	Workers          int          `json:"workers,omitempty"`
	LineCount        int          `json:"lineCount,omitempty"`
	SkippedLines     int          `json:"skippedLines,omitempty"`
	DroppedLines     int          `json:"droppedLines,omitempty"` // not valid UTF-8
	TokenCount       int64        `json:"tokenCount,omitempty"`
	PairCount        int          `json:"pairCount,omitempty"`
	TripleCount      int          `json:"tripleCount,omitempty"`
	VocabularySize   int          `json:"vocabularySize,omitempty"`
	Persisted        bool         `json:"persisted,omitempty"`
	ProcessingTimeMs int64        `json:"processingTimeMs,omitempty"`
	StartTime        int64        `json:"startTime,omitempty"` // Unix ms
	EndTime          int64        `json:"endTime,omitempty"`   // Unix ms
	Errors           []BuildError `json:"errors,omitempty"`
}

// BuildError represents an error that failed or degraded a build.
type BuildError struct {
	Chunk  int    `json:"chunk,omitempty"`
	Line   int    `json:"line,omitempty"`
	Reason string `json:"reason"`
}

// NewBuildSession creates a new BuildSession in pending status.
func NewBuildSession(id, fileID string) *BuildSession {
	return &BuildSession{
		ID:       id,
		FileID:   fileID,
		Status:   BuildStatusPending,
		Progress: 0,
		Errors:   make([]BuildError, 0),
	}
}
