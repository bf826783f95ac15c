package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/boardroom-ai/boardroom/internal/apperr"
	"github.com/boardroom-ai/boardroom/internal/clarify"
	"github.com/boardroom-ai/boardroom/internal/runtime"
	"github.com/boardroom-ai/boardroom/internal/store"
)

// SessionsHandler exposes the guided clarification dialogue.
type SessionsHandler struct {
	Store *store.Store
	Orch  *clarify.Orchestrator
}

func (h *SessionsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.init)
	g.GET("/:id", h.get)
	g.POST("/:id/iterate", h.iterate)
	g.POST("/:id/complete", h.complete)
}

func (h *SessionsHandler) init(c echo.Context) error {
	var req SessionInitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := currentUser(c)
	res, err := h.Orch.Init(c.Request().Context(), userID, req.Question, req.Personas,
		req.DialogueKind, h.profile(c, userID))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, SessionInitResponse{
		SessionID:       res.SessionID,
		CounterQuestion: res.CounterQuestion,
		IsReady:         res.IsReady,
	})
}

func (h *SessionsHandler) get(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	sess, ok, err := h.Store.GetSession(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("session not found")
	}
	if sess.UserID != currentUser(c) {
		return apperr.Authorization("session belongs to another user")
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *SessionsHandler) iterate(c echo.Context) error {
	var req SessionIterateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	userID := currentUser(c)
	res, err := h.Orch.Iterate(c.Request().Context(), userID, id, req.UserAnswer, h.profile(c, userID))
	if err != nil {
		return err
	}
	resp := SessionIterateResponse{IsReady: res.IsReady}
	if res.CounterQuestion != "" {
		resp.CounterQuestion = &res.CounterQuestion
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *SessionsHandler) complete(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	userID := currentUser(c)
	res, err := h.Orch.Complete(c.Request().Context(), userID, id, h.profile(c, userID))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RunResponse{
		RunID:           res.Ref.ChatID(),
		LocalID:         res.Ref.HistoryID(),
		Recommendations: res.Recommendations,
	})
}

// profile fetches the caller's stored profile; a missing or failed read just
// means unenriched engine calls.
func (h *SessionsHandler) profile(c echo.Context, userID string) string {
	p, err := h.Store.GetUserProfile(c.Request().Context(), userID)
	if err != nil {
		return ""
	}
	return p
}
