// handlers_files.go - Uploaded log file handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/logdict/backend/internal/storage"
)

const defaultRecentFiles = 20

// FileHandlerImpl implements the FileHandler interface
type FileHandlerImpl struct {
	store storage.Store
}

// NewFileHandler creates a new file handler instance
func NewFileHandler(store storage.Store) FileHandler {
	return &FileHandlerImpl{store: store}
}

// HandleUploadFile stores the multipart "file" field as a new log file
func (h *FileHandlerImpl) HandleUploadFile(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("missing multipart field \"file\"", err)
	}
	if fh.Filename == "" {
		return NewValidationError("file name")
	}

	src, err := fh.Open()
	if err != nil {
		return NewBadRequestError("unreadable upload", err)
	}
	defer src.Close()

	info, err := h.store.Save(fh.Filename, src)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleGetRecentFiles returns the most recent uploads, newest first
func (h *FileHandlerImpl) HandleGetRecentFiles(c echo.Context) error {
	limit := defaultRecentFiles
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return NewValidationError("limit")
		}
		limit = n
	}

	files, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}
	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns the metadata of one file
func (h *FileHandlerImpl) HandleGetFile(c echo.Context) error {
	info, err := h.store.Get(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

// HandleDeleteFile removes a file and its content
func (h *FileHandlerImpl) HandleDeleteFile(c echo.Context) error {
	if err := h.store.Delete(c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
