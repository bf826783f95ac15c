package clarify

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/boardroom-ai/boardroom/internal/apperr"
	"github.com/boardroom-ai/boardroom/internal/engine"
	"github.com/boardroom-ai/boardroom/internal/persona"
	"github.com/boardroom-ai/boardroom/internal/store"
)

// RunStore resolves runs by the engine-issued id, the namespace all follow-up
// chat operates in.
type RunStore interface {
	GetRunByEngineID(ctx context.Context, engineRunID string) (store.Run, bool, error)
}

// FollowupController handles ad-hoc questions inside an existing
// recommendation thread. Its three operations compose statelessly: the caller
// sequences evaluate, counter-questions and chat; nothing here enforces that
// every counter-question was answered before chat is called.
type FollowupController struct {
	runs   RunStore
	engine engine.Engine
	logger *log.Logger
}

func NewFollowupController(runs RunStore, eng engine.Engine) *FollowupController {
	return &FollowupController{
		runs:   runs,
		engine: eng,
		logger: log.New(log.Writer(), "[FOLLOWUP] ", log.LstdFlags),
	}
}

// Evaluate reports whether the question warrants counter-questions before
// answering. Any engine failure fails open to false so a flaky evaluation
// dependency never blocks the user's primary message.
func (f *FollowupController) Evaluate(ctx context.Context, userID, question, personaKey, engineRunID, dialogueKind, userProfile string) (bool, error) {
	run, err := f.loadRun(ctx, userID, engineRunID)
	if err != nil {
		return false, err
	}
	history, err := f.engine.ChatHistory(ctx, engineRunID, personaKey)
	if err != nil {
		f.logger.Printf("run %s: history fetch failed, evaluating without it: %v", engineRunID, err)
		history = nil
	}
	needs, err := f.engine.EvaluateFollowup(ctx, engine.FollowupRequest{
		Question:       question,
		Persona:        personaKey,
		RunID:          engineRunID,
		DialogueKind:   dialogueKind,
		UserProfile:    userProfile,
		Recommendation: run.Recommendations[personaKey],
		History:        history,
	})
	if err != nil {
		f.logger.Printf("run %s: followup evaluation failed, assuming no clarification needed: %v", engineRunID, err)
		return false, nil
	}
	return needs, nil
}

// CounterQuestions asks the engine for clarifying questions, passing any
// previously issued ones so it does not repeat itself.
func (f *FollowupController) CounterQuestions(ctx context.Context, userID, question, personaKey, engineRunID, dialogueKind string, previous []string, userProfile string) ([]string, error) {
	run, err := f.loadRun(ctx, userID, engineRunID)
	if err != nil {
		return nil, err
	}
	history, err := f.engine.ChatHistory(ctx, engineRunID, personaKey)
	if err != nil {
		f.logger.Printf("run %s: history fetch failed, generating without it: %v", engineRunID, err)
		history = nil
	}
	return f.engine.CounterQuestions(ctx, engine.CounterQuestionRequest{
		FollowupRequest: engine.FollowupRequest{
			Question:       question,
			Persona:        personaKey,
			RunID:          engineRunID,
			DialogueKind:   dialogueKind,
			UserProfile:    userProfile,
			Recommendation: run.Recommendations[personaKey],
			History:        history,
		},
		PreviousQuestions: previous,
	})
}

// Chat forwards the message, optionally bundled with answered clarification
// pairs, to the engine. The engine holds the durable per-(run, persona)
// transcript; nothing is duplicated locally.
func (f *FollowupController) Chat(ctx context.Context, userID, engineRunID, personaKey, message string, enriched []engine.QAPair, dialogueKind, userProfile string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", apperr.Validation("message is required")
	}
	if !persona.Valid(personaKey) {
		return "", apperr.Validation("unknown persona: %s", personaKey)
	}
	if _, err := f.loadRun(ctx, userID, engineRunID); err != nil {
		return "", err
	}
	return f.engine.Chat(ctx, engine.ChatRequest{
		RunID:        engineRunID,
		Persona:      personaKey,
		Message:      message,
		DialogueKind: dialogueKind,
		UserProfile:  userProfile,
		Context:      enriched,
	})
}

// History returns the ordered engine-held transcript for a (run, persona)
// pair.
func (f *FollowupController) History(ctx context.Context, userID, engineRunID, personaKey string) ([]engine.ChatMessage, error) {
	if !persona.Valid(personaKey) {
		return nil, apperr.Validation("unknown persona: %s", personaKey)
	}
	if _, err := f.loadRun(ctx, userID, engineRunID); err != nil {
		return nil, err
	}
	return f.engine.ChatHistory(ctx, engineRunID, personaKey)
}

func (f *FollowupController) loadRun(ctx context.Context, userID, engineRunID string) (store.Run, error) {
	run, ok, err := f.runs.GetRunByEngineID(ctx, engineRunID)
	if err != nil {
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	if !ok {
		return store.Run{}, apperr.NotFound("run not found")
	}
	if run.UserID != userID {
		return store.Run{}, apperr.Authorization("run belongs to another user")
	}
	return run, nil
}
