package server

import "github.com/boardroom-ai/boardroom/internal/engine"

// HTTPError is the uniform error envelope returned by every endpoint.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type ProfileResponse struct {
	Profile string `json:"profile"`
}

type ProfileUpdateRequest struct {
	Profile string `json:"profile"`
}

type SessionInitRequest struct {
	Question     string   `json:"question"`
	Personas     []string `json:"personas"`
	DialogueKind string   `json:"dialogue_kind"`
}

type SessionInitResponse struct {
	SessionID       string `json:"session_id"`
	CounterQuestion string `json:"counter_question"`
	IsReady         bool   `json:"is_ready"`
}

type SessionIterateRequest struct {
	UserAnswer string `json:"user_answer"`
}

type SessionIterateResponse struct {
	CounterQuestion *string `json:"counter_question"`
	IsReady         bool    `json:"is_ready"`
}

// RunResponse reports both id namespaces explicitly: run_id is the engine's
// identifier and is the one any follow-up chat must present; id is the local
// history identifier.
type RunResponse struct {
	RunID           string            `json:"run_id"`
	LocalID         string            `json:"id"`
	Recommendations map[string]string `json:"recommendations"`
}

type MeetingRequest struct {
	Task         string   `json:"task"`
	Personas     []string `json:"personas"`
	Turns        int      `json:"turns"`
	DialogueKind string   `json:"dialogue_kind"`
}

type RunSummary struct {
	ID        string   `json:"id"`
	RunID     string   `json:"run_id"`
	Task      string   `json:"task"`
	Personas  []string `json:"personas"`
	CreatedAt string   `json:"created_at"`
}

type ChatRequest struct {
	RunID           string          `json:"run_id"`
	Persona         string          `json:"persona"`
	Message         string          `json:"message"`
	DialogueKind    string          `json:"dialogue_kind"`
	EnrichedContext []engine.QAPair `json:"enriched_context,omitempty"`
}

type ChatResponse struct {
	Response string `json:"response"`
}

type EvaluateFollowupRequest struct {
	Question     string `json:"question"`
	Persona      string `json:"persona"`
	RunID        string `json:"run_id"`
	DialogueKind string `json:"dialogue_kind"`
}

type EvaluateFollowupResponse struct {
	NeedsCounterQuestions bool `json:"needs_counter_questions"`
}

type CounterQuestionsRequest struct {
	Question          string   `json:"question"`
	Persona           string   `json:"persona"`
	RunID             string   `json:"run_id"`
	DialogueKind      string   `json:"dialogue_kind"`
	PreviousQuestions []string `json:"previous_questions"`
}

type CounterQuestionsResponse struct {
	CounterQuestions []string `json:"counter_questions"`
}

type ChatHistoryResponse struct {
	History []engine.ChatMessage `json:"history"`
}

type MemoryCreateRequest struct {
	Persona string `json:"persona"`
	Content string `json:"content"`
	// RunID is accepted in either namespace: the engine-issued run id that
	// chat responses carry, or the local row id from the run history listing.
	RunID      string               `json:"run_id,omitempty"`
	Transcript []engine.ChatMessage `json:"transcript,omitempty"`
}

type MemoryCreateResponse struct {
	ID string `json:"id"`
}
