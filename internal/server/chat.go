package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/boardroom-ai/boardroom/internal/apperr"
	"github.com/boardroom-ai/boardroom/internal/clarify"
	"github.com/boardroom-ai/boardroom/internal/runtime"
	"github.com/boardroom-ai/boardroom/internal/store"
)

// ChatHandler exposes the follow-up protocol. The run_id every route takes is
// the engine-issued id; local history ids are rejected as unknown runs.
type ChatHandler struct {
	Store    *store.Store
	Followup *clarify.FollowupController
}

func (h *ChatHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.chat)
	g.GET("/history", h.history)
	g.POST("/evaluate", h.evaluate)
	g.POST("/counter-questions", h.counterQuestions)
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := currentUser(c)
	profile, _ := h.Store.GetUserProfile(c.Request().Context(), userID)
	reply, err := h.Followup.Chat(c.Request().Context(), userID, req.RunID, req.Persona,
		req.Message, req.EnrichedContext, req.DialogueKind, profile)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ChatResponse{Response: reply})
}

func (h *ChatHandler) history(c echo.Context) error {
	runID := c.QueryParam("run_id")
	personaKey := c.QueryParam("persona")
	if runID == "" || personaKey == "" {
		return apperr.Validation("run_id and persona are required")
	}
	history, err := h.Followup.History(c.Request().Context(), currentUser(c), runID, personaKey)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ChatHistoryResponse{History: history})
}

func (h *ChatHandler) evaluate(c echo.Context) error {
	var req EvaluateFollowupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := currentUser(c)
	profile, _ := h.Store.GetUserProfile(c.Request().Context(), userID)
	needs, err := h.Followup.Evaluate(c.Request().Context(), userID, req.Question, req.Persona,
		req.RunID, req.DialogueKind, profile)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, EvaluateFollowupResponse{NeedsCounterQuestions: needs})
}

func (h *ChatHandler) counterQuestions(c echo.Context) error {
	var req CounterQuestionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := currentUser(c)
	profile, _ := h.Store.GetUserProfile(c.Request().Context(), userID)
	qs, err := h.Followup.CounterQuestions(c.Request().Context(), userID, req.Question, req.Persona,
		req.RunID, req.DialogueKind, req.PreviousQuestions, profile)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CounterQuestionsResponse{CounterQuestions: qs})
}
