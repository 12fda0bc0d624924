// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"

	"github.com/logdict/backend/internal/dictionary"
	"github.com/logdict/backend/internal/export"
	"github.com/logdict/backend/internal/models"
	"github.com/logdict/backend/internal/session"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// FileHandler handles uploaded log file operations
type FileHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
}

// FormatHandler lists the log formats a build can use
type FormatHandler interface {
	HandleListFormats(c echo.Context) error
}

// BuildHandler handles dictionary build sessions and their results
type BuildHandler interface {
	HandleStartBuild(c echo.Context) error
	HandleListBuilds(c echo.Context) error
	HandleBuildStatus(c echo.Context) error
	HandleBuildKeepAlive(c echo.Context) error
	HandleBuildProgressStream(c echo.Context) error
	HandleGetPairs(c echo.Context) error
	HandleGetTriples(c echo.Context) error
	HandleGetVocabulary(c echo.Context) error
	HandleExportMsgpack(c echo.Context) error
}

// DictionaryHandler serves dictionaries persisted to DuckDB
type DictionaryHandler interface {
	HandleListDictionaries(c echo.Context) error
	HandleTopEntries(c echo.Context) error
	HandleDeleteDictionary(c echo.Context) error
}

// BuildManager defines the interface for build session management
// This allows mocking in tests
type BuildManager interface {
	StartBuild(fileID, filePath string, req models.BuildRequest) (*models.BuildSession, error)
	GetSession(id string) (*models.BuildSession, bool)
	List() []*models.BuildSession
	TouchSession(id string) bool
	GetResult(id string) (*dictionary.Result, *export.Snapshot, bool)
}

var _ BuildManager = (*session.Manager)(nil)
