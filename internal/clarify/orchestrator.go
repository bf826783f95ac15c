// Package clarify implements the guided pre-meeting dialogue: a short
// clarification exchange that enriches a user's question before it is
// dispatched to the recommendation engine.
package clarify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/boardroom-ai/boardroom/internal/apperr"
	"github.com/boardroom-ai/boardroom/internal/engine"
	"github.com/boardroom-ai/boardroom/internal/persona"
	"github.com/boardroom-ai/boardroom/internal/store"
)

// SessionStore is the slice of persistence the orchestrator needs.
type SessionStore interface {
	CreateSession(ctx context.Context, sess store.ClarificationSession) (string, error)
	GetSession(ctx context.Context, id string) (store.ClarificationSession, bool, error)
	UpdateSessionTranscript(ctx context.Context, id string, transcript []engine.Turn, state string, version int) error
	DeleteSession(ctx context.Context, id string) error
	CreateRun(ctx context.Context, run store.Run) (string, error)
}

// transcriptSeparator joins the original question and the rendered dialogue
// in the enriched task sent to the engine.
const transcriptSeparator = "\n\n--- Clarification Dialogue ---\n"

// Orchestrator drives a clarification session through its lifecycle:
// init, iterate until ready, complete.
type Orchestrator struct {
	store        SessionStore
	engine       engine.Engine
	maxUserTurns int
	defaultTurns int
	logger       *log.Logger
}

func NewOrchestrator(st SessionStore, eng engine.Engine, maxUserTurns, defaultTurns int) *Orchestrator {
	return &Orchestrator{
		store:        st,
		engine:       eng,
		maxUserTurns: maxUserTurns,
		defaultTurns: defaultTurns,
		logger:       log.New(log.Writer(), "[CLARIFY] ", log.LstdFlags),
	}
}

type InitResult struct {
	SessionID       string `json:"session_id"`
	CounterQuestion string `json:"counter_question"`
	IsReady         bool   `json:"is_ready"`
}

type IterateResult struct {
	CounterQuestion string `json:"counter_question,omitempty"`
	IsReady         bool   `json:"is_ready"`
}

type CompleteResult struct {
	Ref             store.RunRef      `json:"ref"`
	Recommendations map[string]string `json:"recommendations"`
}

// Init opens a new session. The engine is always asked for one opening
// counter-question, even if its own judgment would skip clarification, so
// IsReady is false in every successful response.
func (o *Orchestrator) Init(ctx context.Context, userID, question string, personas []string, dialogueKind, userProfile string) (InitResult, error) {
	if strings.TrimSpace(question) == "" {
		return InitResult{}, apperr.Validation("question is required")
	}
	if len(personas) == 0 {
		return InitResult{}, apperr.Validation("at least one persona is required")
	}
	for _, p := range personas {
		if !persona.Valid(p) {
			return InitResult{}, apperr.Validation("unknown persona %q (valid: %s)", p, strings.Join(persona.Keys(), ", "))
		}
	}
	if !persona.ValidKind(dialogueKind) {
		return InitResult{}, apperr.Validation("unknown dialogue kind: %s", dialogueKind)
	}

	transcript := []engine.Turn{{Role: engine.RoleUser, Text: question, Timestamp: time.Now().UTC()}}
	counterQ, err := o.engine.InitialQuestion(ctx, engine.ClarifyRequest{
		Question:     question,
		Personas:     personas,
		DialogueKind: dialogueKind,
		UserProfile:  userProfile,
		Transcript:   transcript,
	})
	if err != nil {
		return InitResult{}, err
	}
	transcript = append(transcript, engine.Turn{Role: engine.RoleAssistant, Text: counterQ, Timestamp: time.Now().UTC()})

	id, err := o.store.CreateSession(ctx, store.ClarificationSession{
		UserID:       userID,
		Question:     question,
		Personas:     personas,
		DialogueKind: dialogueKind,
		Transcript:   transcript,
		State:        store.SessionAwaitingUserAnswer,
	})
	if err != nil {
		return InitResult{}, fmt.Errorf("create session: %w", err)
	}
	return InitResult{SessionID: id, CounterQuestion: counterQ, IsReady: false}, nil
}

// Iterate records the user's answer and either asks the next counter-question
// or declares the session ready. The session is only mutated after the engine
// call succeeds, so a failed call leaves it safe to retry.
func (o *Orchestrator) Iterate(ctx context.Context, userID, sessionID, userAnswer, userProfile string) (IterateResult, error) {
	if strings.TrimSpace(userAnswer) == "" {
		return IterateResult{}, apperr.Validation("answer is required")
	}
	sess, err := o.load(ctx, userID, sessionID)
	if err != nil {
		return IterateResult{}, err
	}
	if sess.State == store.SessionCompleted {
		return IterateResult{}, apperr.Conflict("session already completed")
	}
	if sess.State == store.SessionReady {
		return IterateResult{IsReady: true}, nil
	}

	transcript := append(sess.Transcript, engine.Turn{Role: engine.RoleUser, Text: userAnswer, Timestamp: time.Now().UTC()})
	res, err := o.engine.Evaluate(ctx, engine.ClarifyRequest{
		Question:     sess.Question,
		Personas:     sess.Personas,
		DialogueKind: sess.DialogueKind,
		UserProfile:  userProfile,
		Transcript:   transcript,
	})
	if err != nil {
		return IterateResult{}, err
	}

	// Hard cap on dialogue length: the engine's verdict is overridden once
	// the user has answered maxUserTurns times. The opening question is a
	// user-authored turn too, so it is excluded from the count.
	answers := 0
	for _, t := range transcript[1:] {
		if t.Role == engine.RoleUser {
			answers++
		}
	}
	if answers >= o.maxUserTurns {
		res.IsReady = true
		res.CounterQuestion = ""
	}

	state := store.SessionReady
	if !res.IsReady {
		// Without a pending counter-question there is no assistant turn for
		// the user to answer, so the session is tagged as still waiting for
		// one rather than waiting on the user.
		state = store.SessionAwaitingCounterQuestion
		if res.CounterQuestion != "" {
			transcript = append(transcript, engine.Turn{Role: engine.RoleAssistant, Text: res.CounterQuestion, Timestamp: time.Now().UTC()})
			state = store.SessionAwaitingUserAnswer
		}
	}
	if err := o.store.UpdateSessionTranscript(ctx, sess.ID, transcript, state, sess.Version); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return IterateResult{}, apperr.Conflict("session was modified concurrently, re-read and retry")
		}
		return IterateResult{}, fmt.Errorf("update session: %w", err)
	}
	return IterateResult{CounterQuestion: res.CounterQuestion, IsReady: res.IsReady}, nil
}

// Complete dispatches the enriched question and persists the resulting run.
// The session is deleted only after the run row exists; if persistence fails
// the session stays intact so complete can be retried without re-asking the
// user anything. A failed delete after a persisted run is logged, and the
// session is marked completed so a retry cannot dispatch a second meeting.
func (o *Orchestrator) Complete(ctx context.Context, userID, sessionID, userProfile string) (CompleteResult, error) {
	sess, err := o.load(ctx, userID, sessionID)
	if err != nil {
		return CompleteResult{}, err
	}
	if sess.State == store.SessionCompleted {
		return CompleteResult{}, apperr.Conflict("session already completed")
	}
	if sess.State != store.SessionReady {
		return CompleteResult{}, apperr.Validation("session is not ready for completion")
	}

	task := EnrichTask(sess.Question, sess.Transcript)
	out, err := o.engine.Dispatch(ctx, engine.DispatchRequest{
		Task:         task,
		Personas:     sess.Personas,
		Turns:        o.defaultTurns,
		DialogueKind: sess.DialogueKind,
		UserProfile:  userProfile,
	})
	if err != nil {
		return CompleteResult{}, err
	}

	localID, err := o.store.CreateRun(ctx, store.Run{
		Ref:             store.RunRef{EngineID: out.RunID},
		UserID:          userID,
		Task:            task,
		Turns:           o.defaultTurns,
		Personas:        sess.Personas,
		Recommendations: out.Recommendations,
	})
	if err != nil {
		return CompleteResult{}, fmt.Errorf("persist run: %w", err)
	}
	if err := o.store.DeleteSession(ctx, sess.ID); err != nil {
		// The run already exists, so the surviving session is tagged as
		// completed to reject a retry that would dispatch a second meeting.
		o.logger.Printf("session %s: delete after completion failed: %v", sess.ID, err)
		if uerr := o.store.UpdateSessionTranscript(ctx, sess.ID, sess.Transcript, store.SessionCompleted, sess.Version); uerr != nil {
			o.logger.Printf("session %s: completed marker failed: %v", sess.ID, uerr)
		}
	}
	return CompleteResult{
		Ref:             store.RunRef{LocalID: localID, EngineID: out.RunID},
		Recommendations: out.Recommendations,
	}, nil
}

func (o *Orchestrator) load(ctx context.Context, userID, sessionID string) (store.ClarificationSession, error) {
	sess, ok, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return store.ClarificationSession{}, fmt.Errorf("get session: %w", err)
	}
	if !ok {
		return store.ClarificationSession{}, apperr.NotFound("session not found")
	}
	if sess.UserID != userID {
		return store.ClarificationSession{}, apperr.Authorization("session belongs to another user")
	}
	return sess, nil
}

// EnrichTask renders the original question followed by the full dialogue as
// "User:"/"AI:" lines. The original question is always the literal prefix.
func EnrichTask(question string, transcript []engine.Turn) string {
	var b strings.Builder
	b.WriteString(question)
	b.WriteString(transcriptSeparator)
	for i, t := range transcript {
		if i > 0 {
			b.WriteString("\n")
		}
		switch t.Role {
		case engine.RoleUser:
			b.WriteString("User: ")
		default:
			b.WriteString("AI: ")
		}
		b.WriteString(t.Text)
	}
	return b.String()
}
