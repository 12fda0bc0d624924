// handlers_build.go - Dictionary build session handlers
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/logdict/backend/internal/dictionary"
	"github.com/logdict/backend/internal/export"
	"github.com/logdict/backend/internal/models"
	"github.com/logdict/backend/internal/storage"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000

	progressInterval = 100 * time.Millisecond
	streamTimeout    = 30 * time.Minute
)

// BuildHandlerImpl implements the BuildHandler interface
type BuildHandlerImpl struct {
	store  storage.Store
	builds BuildManager
}

// NewBuildHandler creates a new build handler instance
func NewBuildHandler(store storage.Store, builds BuildManager) BuildHandler {
	return &BuildHandlerImpl{store: store, builds: builds}
}

type startBuildRequest struct {
	FileID            string `json:"fileId"`
	Format            string `json:"format"`
	Workers           int    `json:"workers"`
	TolerateMalformed bool   `json:"tolerateMalformed"`
	Persist           *bool  `json:"persist,omitempty"`
}

func (r startBuildRequest) validate() error {
	if r.FileID == "" {
		return NewValidationError("fileId")
	}
	if r.Workers < 0 || r.Workers > dictionary.MaxWorkers {
		return NewValidationError("workers")
	}
	return nil
}

type pageResponse[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
}

// HandleStartBuild starts building the dictionary of an uploaded file
func (h *BuildHandlerImpl) HandleStartBuild(c echo.Context) error {
	var req startBuildRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	path, err := h.store.GetFilePath(req.FileID)
	if err != nil {
		return err
	}

	sess, err := h.builds.StartBuild(req.FileID, path, models.BuildRequest{
		FileID:            req.FileID,
		Format:            req.Format,
		Workers:           req.Workers,
		TolerateMalformed: req.TolerateMalformed,
		Persist:           req.Persist,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, sess)
}

// HandleListBuilds returns every retained build, newest first
func (h *BuildHandlerImpl) HandleListBuilds(c echo.Context) error {
	return c.JSON(http.StatusOK, h.builds.List())
}

// HandleBuildStatus returns the current state of a build
func (h *BuildHandlerImpl) HandleBuildStatus(c echo.Context) error {
	id := c.Param("buildId")
	sess, ok := h.builds.GetSession(id)
	if !ok {
		return NewNotFoundError("build", id)
	}

	// Touch session to prevent cleanup while being viewed
	h.builds.TouchSession(id)

	return c.JSON(http.StatusOK, sess)
}

// HandleBuildKeepAlive extends the lifetime of a finished build
func (h *BuildHandlerImpl) HandleBuildKeepAlive(c echo.Context) error {
	id := c.Param("buildId")
	if ok := h.builds.TouchSession(id); !ok {
		return NewNotFoundError("build", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleBuildProgressStream streams build progress via SSE
func (h *BuildHandlerImpl) HandleBuildProgressStream(c echo.Context) error {
	id := c.Param("buildId")
	sess, ok := h.builds.GetSession(id)
	if !ok {
		return NewNotFoundError("build", id)
	}

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	sendSSEData(c, sess)
	if sess.Status.Done() {
		return nil
	}

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	timeout := time.NewTimer(streamTimeout)
	defer timeout.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			sess, ok := h.builds.GetSession(id)
			if !ok {
				sendSSEError(c, "build not found")
				return nil
			}
			sendSSEData(c, sess)
			if sess.Status.Done() {
				return nil
			}

		case <-timeout.C:
			sendSSEError(c, "stream timeout")
			return nil
		}
	}
}

// HandleGetPairs returns a page of pair counts, most frequent first
func (h *BuildHandlerImpl) HandleGetPairs(c echo.Context) error {
	_, snap, err := h.result(c)
	if err != nil {
		return err
	}
	page, pageSize, minCount, err := pagingParams(c)
	if err != nil {
		return err
	}

	n := sort.Search(len(snap.Pairs), func(i int) bool { return snap.Pairs[i].Count < minCount })
	return c.JSON(http.StatusOK, paginate(snap.Pairs[:n], page, pageSize))
}

// HandleGetTriples returns a page of triple counts, most frequent first
func (h *BuildHandlerImpl) HandleGetTriples(c echo.Context) error {
	_, snap, err := h.result(c)
	if err != nil {
		return err
	}
	page, pageSize, minCount, err := pagingParams(c)
	if err != nil {
		return err
	}

	n := sort.Search(len(snap.Triples), func(i int) bool { return snap.Triples[i].Count < minCount })
	return c.JSON(http.StatusOK, paginate(snap.Triples[:n], page, pageSize))
}

// HandleGetVocabulary returns a page of the sorted vocabulary. With ?token=
// it reports whether that single token is known instead.
func (h *BuildHandlerImpl) HandleGetVocabulary(c echo.Context) error {
	res, snap, err := h.result(c)
	if err != nil {
		return err
	}
	if token := c.QueryParam("token"); token != "" {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"token":    token,
			"contains": res.Contains(token),
		})
	}
	page, pageSize, _, err := pagingParams(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, paginate(snap.Vocabulary, page, pageSize))
}

// HandleExportMsgpack streams the whole dictionary as a msgpack snapshot
func (h *BuildHandlerImpl) HandleExportMsgpack(c echo.Context) error {
	_, snap, err := h.result(c)
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentType, export.ContentTypeMsgpack)
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", "dict_"+snap.BuildID+".msgpack"))
	c.Response().WriteHeader(http.StatusOK)
	return export.EncodeMsgpack(c.Response(), snap)
}

// result returns the dictionary of a complete build, or the error to
// respond with.
func (h *BuildHandlerImpl) result(c echo.Context) (*dictionary.Result, *export.Snapshot, error) {
	id := c.Param("buildId")
	res, snap, ok := h.builds.GetResult(id)
	if ok {
		return res, snap, nil
	}

	sess, exists := h.builds.GetSession(id)
	if !exists {
		return nil, nil, NewNotFoundError("build", id)
	}
	if sess.Status == models.BuildStatusError {
		return nil, nil, NewConflictError("build failed: " + id)
	}
	return nil, nil, NewConflictError(fmt.Sprintf("build %s is %s", id, sess.Status))
}

func pagingParams(c echo.Context) (page, pageSize int, minCount int64, err error) {
	page, pageSize, minCount = 1, defaultPageSize, 1

	if v := c.QueryParam("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, 0, NewValidationError("page")
		}
	}
	if v := c.QueryParam("pageSize"); v != "" {
		if pageSize, err = strconv.Atoi(v); err != nil || pageSize < 1 || pageSize > maxPageSize {
			return 0, 0, 0, NewValidationError("pageSize")
		}
	}
	if v := c.QueryParam("minCount"); v != "" {
		if minCount, err = strconv.ParseInt(v, 10, 64); err != nil || minCount < 1 {
			return 0, 0, 0, NewValidationError("minCount")
		}
	}
	return page, pageSize, minCount, nil
}

func paginate[T any](items []T, page, pageSize int) pageResponse[T] {
	start := len(items)
	// Compare before multiplying: (page-1)*pageSize overflows for huge pages.
	if page-1 < len(items)/pageSize+1 {
		start = min((page-1)*pageSize, len(items))
	}
	end := min(start+pageSize, len(items))
	out := items[start:end]
	if out == nil {
		out = []T{}
	}
	return pageResponse[T]{Items: out, Page: page, PageSize: pageSize, Total: len(items)}
}

func sendSSEData(c echo.Context, data interface{}) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(c.Response(), "data: %s\n\n", jsonData)
	c.Response().Flush()
}

func sendSSEError(c echo.Context, message string) {
	sendSSEData(c, map[string]string{"error": message})
}
