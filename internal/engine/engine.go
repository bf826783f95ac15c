// Package engine defines the client contract for the external multi-persona
// recommendation/clarification engine. The engine is an opaque synchronous
// JSON-over-HTTP collaborator; it privately holds per-(run, persona) chat
// memory keyed by its own run id.
package engine

import (
	"context"
	"time"
)

// Role identifies the speaker of a clarification turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a clarification transcript, carried over the wire as a
// plain role+text pair.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ClarifyRequest carries the dialogue context for question generation and
// readiness evaluation.
type ClarifyRequest struct {
	Question     string   `json:"question"`
	Personas     []string `json:"personas"`
	DialogueKind string   `json:"dialogue_kind"`
	UserProfile  string   `json:"user_profile,omitempty"`
	Transcript   []Turn   `json:"transcript,omitempty"`
}

// EvalResult is the engine's verdict on a transcript: whether the question is
// ready for dispatch, and the next counter-question when it is not.
type EvalResult struct {
	CounterQuestion string `json:"counter_question"`
	IsReady         bool   `json:"is_ready"`
}

// DispatchRequest submits a (possibly enriched) task for recommendations.
type DispatchRequest struct {
	Task         string   `json:"task"`
	Personas     []string `json:"personas"`
	Turns        int      `json:"turns"`
	DialogueKind string   `json:"dialogue_kind"`
	UserProfile  string   `json:"user_profile,omitempty"`
}

// DispatchResult carries the engine-issued run id and one recommendation per
// requested persona. Follow-up chat must use RunID; it is the key into the
// engine's per-persona conversational memory.
type DispatchResult struct {
	RunID           string            `json:"run_id"`
	Recommendations map[string]string `json:"recommendations"`
}

// QAPair is one answered counter-question bundled into an enriched chat turn.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ChatRequest forwards one follow-up message into a run's persona thread.
type ChatRequest struct {
	RunID        string   `json:"run_id"`
	Persona      string   `json:"persona"`
	Message      string   `json:"message"`
	DialogueKind string   `json:"dialogue_kind,omitempty"`
	UserProfile  string   `json:"user_profile,omitempty"`
	Context      []QAPair `json:"context,omitempty"`
}

// ChatMessage is one entry of the engine-held chat transcript.
type ChatMessage struct {
	Sender string    `json:"sender"` // user or agent
	Text   string    `json:"message"`
	At     time.Time `json:"timestamp,omitempty"`
}

// FollowupRequest asks whether an ad-hoc chat question needs clarification
// before it is answered. Recommendation and History are the stored context for
// the (run, persona) pair, fetched by the caller.
type FollowupRequest struct {
	Question       string        `json:"question"`
	Persona        string        `json:"persona"`
	RunID          string        `json:"run_id"`
	DialogueKind   string        `json:"dialogue_kind"`
	UserProfile    string        `json:"user_profile,omitempty"`
	Recommendation string        `json:"recommendation,omitempty"`
	History        []ChatMessage `json:"history,omitempty"`
}

// CounterQuestionRequest asks for one or two clarifying questions, avoiding
// repeats of PreviousQuestions.
type CounterQuestionRequest struct {
	FollowupRequest
	PreviousQuestions []string `json:"previous_questions,omitempty"`
}

// Engine is the synchronous adapter to the recommendation engine. Every
// method returns an explicit error tagged by the apperr taxonomy; callers are
// expected to branch on it rather than panic or retry internally.
type Engine interface {
	// InitialQuestion produces the opening counter-question for a new
	// clarification dialogue.
	InitialQuestion(ctx context.Context, req ClarifyRequest) (string, error)

	// Evaluate judges a full transcript for readiness and proposes the next
	// counter-question when more context is needed.
	Evaluate(ctx context.Context, req ClarifyRequest) (EvalResult, error)

	// Dispatch runs the recommendation meeting and returns the engine run id
	// plus per-persona recommendations.
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error)

	// Chat appends one follow-up exchange to the engine-held (run, persona)
	// transcript and returns the persona's reply.
	Chat(ctx context.Context, req ChatRequest) (string, error)

	// EvaluateFollowup reports whether a chat question warrants
	// counter-questions before answering.
	EvaluateFollowup(ctx context.Context, req FollowupRequest) (bool, error)

	// CounterQuestions generates clarifying questions for a chat follow-up.
	CounterQuestions(ctx context.Context, req CounterQuestionRequest) ([]string, error)

	// ChatHistory fetches the ordered engine-held transcript for a
	// (run, persona) pair.
	ChatHistory(ctx context.Context, runID, persona string) ([]ChatMessage, error)
}
