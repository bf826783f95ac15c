package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/boardroom-ai/boardroom/internal/persona"
)

// PersonasHandler serves the selectable persona catalog and dialogue kinds.
// The catalog is static, so no auth is required.
type PersonasHandler struct{}

func (h *PersonasHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/dialogue-kinds", h.kinds)
}

func (h *PersonasHandler) list(c echo.Context) error {
	return c.JSON(http.StatusOK, persona.All())
}

func (h *PersonasHandler) kinds(c echo.Context) error {
	return c.JSON(http.StatusOK, persona.DialogueKinds)
}
