// handlers_formats.go - Log format listing
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/logdict/backend/internal/parser"
)

// FormatHandlerImpl implements the FormatHandler interface
type FormatHandlerImpl struct {
	registry      *parser.Registry
	defaultFormat string
}

// NewFormatHandler creates a new format handler instance
func NewFormatHandler(registry *parser.Registry, defaultFormat string) FormatHandler {
	return &FormatHandlerImpl{registry: registry, defaultFormat: defaultFormat}
}

type formatsResponse struct {
	Formats  []parser.LogFormat `json:"formats"`
	Reserved []string           `json:"reserved"`
	Default  string             `json:"default"`
}

// HandleListFormats returns the registered formats in detection order
func (h *FormatHandlerImpl) HandleListFormats(c echo.Context) error {
	def := h.defaultFormat
	if def == "" {
		def = parser.FormatWhitespace
	}
	return c.JSON(http.StatusOK, formatsResponse{
		Formats:  h.registry.Formats(),
		Reserved: []string{parser.FormatWhitespace, parser.FormatAuto},
		Default:  def,
	})
}
