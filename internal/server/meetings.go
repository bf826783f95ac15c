package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/boardroom-ai/boardroom/internal/apperr"
	"github.com/boardroom-ai/boardroom/internal/dispatch"
	"github.com/boardroom-ai/boardroom/internal/runtime"
	"github.com/boardroom-ai/boardroom/internal/store"
)

// MeetingsHandler exposes direct dispatch and run history.
type MeetingsHandler struct {
	Store      *store.Store
	Dispatcher *dispatch.Dispatcher
}

func (h *MeetingsHandler) Register(api *echo.Group, secret []byte) {
	meetings := api.Group("/meetings")
	meetings.Use(runtime.EchoAuthMiddleware(secret))
	meetings.POST("", h.dispatch)

	runs := api.Group("/runs")
	runs.Use(runtime.EchoAuthMiddleware(secret))
	runs.GET("", h.list)
	runs.GET("/:id", h.get)
}

func (h *MeetingsHandler) dispatch(c echo.Context) error {
	var req MeetingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := currentUser(c)
	profile, _ := h.Store.GetUserProfile(c.Request().Context(), userID)
	res, err := h.Dispatcher.Dispatch(c.Request().Context(), userID, req.Task, req.Personas,
		req.Turns, req.DialogueKind, profile)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RunResponse{
		RunID:           res.Ref.ChatID(),
		LocalID:         res.Ref.HistoryID(),
		Recommendations: res.Recommendations,
	})
}

func (h *MeetingsHandler) list(c echo.Context) error {
	runs, err := h.Store.ListRuns(c.Request().Context(), currentUser(c))
	if err != nil {
		return err
	}
	out := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, RunSummary{
			ID:        r.Ref.HistoryID(),
			RunID:     r.Ref.ChatID(),
			Task:      r.Task,
			Personas:  r.Personas,
			CreatedAt: r.CreatedAt.Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *MeetingsHandler) get(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	run, ok, err := h.Store.GetRun(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("run not found")
	}
	if run.UserID != currentUser(c) {
		return apperr.Authorization("run belongs to another user")
	}
	return c.JSON(http.StatusOK, run)
}
