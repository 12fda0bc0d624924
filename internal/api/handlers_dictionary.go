// handlers_dictionary.go - Persisted DuckDB dictionary handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/logdict/backend/internal/dictstore"
)

const (
	defaultTopLimit = 20
	maxTopLimit     = 1000
)

// DictionaryHandlerImpl implements the DictionaryHandler interface
type DictionaryHandlerImpl struct {
	store *dictstore.PersistentStore
}

// NewDictionaryHandler creates a dictionary handler. A nil store answers
// every request with 503.
func NewDictionaryHandler(store *dictstore.PersistentStore) DictionaryHandler {
	return &DictionaryHandlerImpl{store: store}
}

type topResponse struct {
	Meta    *dictstore.Meta `json:"meta"`
	Kind    string          `json:"kind"`
	Limit   int             `json:"limit"`
	Entries interface{}     `json:"entries"`
}

func (h *DictionaryHandlerImpl) enabled() error {
	if h.store == nil {
		return NewServiceUnavailableError("dictionary persistence is disabled")
	}
	return nil
}

// HandleListDictionaries lists persisted dictionaries, newest first
func (h *DictionaryHandlerImpl) HandleListDictionaries(c echo.Context) error {
	if err := h.enabled(); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"dictionaries": h.store.List(),
		"stats":        h.store.Stats(),
	})
}

// HandleTopEntries returns the most frequent pairs or triples of a persisted
// dictionary, read straight from its database
func (h *DictionaryHandlerImpl) HandleTopEntries(c echo.Context) error {
	if err := h.enabled(); err != nil {
		return err
	}

	kind := c.QueryParam("kind")
	if kind == "" {
		kind = "pairs"
	}
	if kind != "pairs" && kind != "triples" {
		return NewValidationError("kind")
	}

	limit := defaultTopLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTopLimit {
			return NewValidationError("limit")
		}
		limit = n
	}

	var minCount int64 = 1
	if v := c.QueryParam("minCount"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return NewValidationError("minCount")
		}
		minCount = n
	}

	db, err := h.store.Open(c.Param("buildId"))
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := c.Request().Context()
	meta, err := db.Meta(ctx)
	if err != nil {
		return NewInternalError("failed to read dictionary", err)
	}

	resp := topResponse{Meta: meta, Kind: kind, Limit: limit}
	if kind == "pairs" {
		resp.Entries, err = db.TopPairs(ctx, limit, minCount)
	} else {
		resp.Entries, err = db.TopTriples(ctx, limit, minCount)
	}
	if err != nil {
		return NewInternalError("failed to query dictionary", err)
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleDeleteDictionary removes a persisted dictionary
func (h *DictionaryHandlerImpl) HandleDeleteDictionary(c echo.Context) error {
	if err := h.enabled(); err != nil {
		return err
	}
	id := c.Param("buildId")
	if !h.store.Has(id) {
		return NewNotFoundError("dictionary", id)
	}
	if err := h.store.Delete(id); err != nil {
		return NewInternalError("failed to delete dictionary", err)
	}
	return c.NoContent(http.StatusNoContent)
}
