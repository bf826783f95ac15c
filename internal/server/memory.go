package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/boardroom-ai/boardroom/internal/apperr"
	"github.com/boardroom-ai/boardroom/internal/persona"
	"github.com/boardroom-ai/boardroom/internal/runtime"
	"github.com/boardroom-ai/boardroom/internal/store"
)

// MemoriesHandler exposes user-curated saved recommendations.
type MemoriesHandler struct {
	Store *store.Store
}

func (h *MemoriesHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
}

func (h *MemoriesHandler) create(c echo.Context) error {
	var req MemoryCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content == "" {
		return apperr.Validation("content is required")
	}
	if !persona.Valid(req.Persona) {
		return apperr.Validation("unknown persona: %s", req.Persona)
	}
	runID := ""
	if req.RunID != "" {
		var err error
		runID, err = h.resolveRun(c.Request().Context(), currentUser(c), req.RunID)
		if err != nil {
			return err
		}
	}
	id, err := h.Store.CreateAgentMemory(c.Request().Context(), store.AgentMemory{
		UserID:     currentUser(c),
		Persona:    req.Persona,
		Content:    req.Content,
		RunID:      runID,
		Transcript: req.Transcript,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, MemoryCreateResponse{ID: id})
}

// resolveRun accepts a run reference in either namespace and returns the
// local row id the foreign key needs. Chat callers hold the engine-issued id,
// history listing hands out the local one.
func (h *MemoriesHandler) resolveRun(ctx context.Context, userID, ref string) (string, error) {
	var (
		run store.Run
		ok  bool
		err error
	)
	if _, perr := uuid.Parse(ref); perr == nil {
		run, ok, err = h.Store.GetRun(ctx, ref)
	} else {
		run, ok, err = h.Store.GetRunByEngineID(ctx, ref)
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.NotFound("run not found")
	}
	if run.UserID != userID {
		return "", apperr.Authorization("run belongs to another user")
	}
	return run.Ref.LocalID, nil
}

func (h *MemoriesHandler) list(c echo.Context) error {
	mems, err := h.Store.ListAgentMemories(c.Request().Context(), currentUser(c), c.QueryParam("persona"))
	if err != nil {
		return err
	}
	if mems == nil {
		mems = []store.AgentMemory{}
	}
	return c.JSON(http.StatusOK, mems)
}
