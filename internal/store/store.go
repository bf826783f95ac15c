// Package store is the durable persistence layer: users, clarification
// sessions, run records, and saved agent memories, all in Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lib/pq"

	"github.com/boardroom-ai/boardroom/internal/engine"
)

type Store struct {
	DB *sql.DB
}

// Session states. A session is created awaiting the user's answer to the
// first counter-question and is destroyed when completion succeeds; completed
// therefore only appears transiently, never at rest.
const (
	SessionAwaitingCounterQuestion = "awaiting_counter_question"
	SessionAwaitingUserAnswer      = "awaiting_user_answer"
	SessionReady                   = "ready"
	SessionCompleted               = "completed"
)

// ErrVersionConflict is returned when a session update carries a stale
// version. Concurrent iterate() calls on one session lose instead of
// last-write-wins clobbering the transcript.
var ErrVersionConflict = errors.New("session version conflict")

// ClarificationSession is one guided pre-meeting dialogue.
type ClarificationSession struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Question     string        `json:"question"`
	Personas     []string      `json:"personas"`
	DialogueKind string        `json:"dialogue_kind"`
	Transcript   []engine.Turn `json:"transcript"`
	State        string        `json:"state"`
	Version      int           `json:"version"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// UserTurns counts the user-authored turns in the transcript.
func (s ClarificationSession) UserTurns() int {
	n := 0
	for _, t := range s.Transcript {
		if t.Role == engine.RoleUser {
			n++
		}
	}
	return n
}

// RunRef wraps the two run id namespaces. The engine issues EngineID and keys
// its per-persona chat memory by it; LocalID is this service's row id used
// for history listing. Call sites state which one they need instead of
// passing bare strings around.
type RunRef struct {
	LocalID  string `json:"id"`
	EngineID string `json:"engine_run_id"`
}

// ChatID is the identifier follow-up chat must use.
func (r RunRef) ChatID() string { return r.EngineID }

// HistoryID is the identifier history listing uses.
func (r RunRef) HistoryID() string { return r.LocalID }

// Run is the durable record of one dispatched question and its answers.
type Run struct {
	Ref             RunRef            `json:"ref"`
	UserID          string            `json:"user_id"`
	Task            string            `json:"task"`
	Turns           int               `json:"turns"`
	Personas        []string          `json:"personas"`
	Recommendations map[string]string `json:"recommendations"`
	CreatedAt       time.Time         `json:"created_at"`
}

// AgentMemory is a user-curated saved artifact: a recommendation, optionally
// with the chat transcript that followed it. Never auto-expired.
type AgentMemory struct {
	ID         string               `json:"id"`
	UserID     string               `json:"user_id"`
	Persona    string               `json:"persona"`
	Content    string               `json:"content"`
	RunID      string               `json:"run_id,omitempty"`
	Transcript []engine.ChatMessage `json:"transcript,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

func (s *Store) GetUserProfile(ctx context.Context, userID string) (string, error) {
	var profile string
	err := s.DB.QueryRowContext(ctx, `SELECT profile FROM users WHERE id=$1`, userID).Scan(&profile)
	return profile, err
}

func (s *Store) UpdateUserProfile(ctx context.Context, userID, profile string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE users SET profile=$2 WHERE id=$1`, userID, profile)
	return err
}

// Clarification session operations

// CreateSession inserts a new session at version 1 and returns its id.
func (s *Store) CreateSession(ctx context.Context, sess ClarificationSession) (string, error) {
	transcript, err := json.Marshal(sess.Transcript)
	if err != nil {
		return "", fmt.Errorf("marshal transcript: %w", err)
	}
	var id string
	err = s.DB.QueryRowContext(ctx, `
		INSERT INTO clarification_sessions (user_id, question, personas, dialogue_kind, transcript, state)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		sess.UserID, sess.Question, pq.Array(sess.Personas), sess.DialogueKind, transcript, sess.State,
	).Scan(&id)
	return id, err
}

// GetSession fetches a session by id regardless of owner; callers perform the
// ownership check so an authorization failure is distinguishable from a
// missing row.
func (s *Store) GetSession(ctx context.Context, id string) (ClarificationSession, bool, error) {
	var (
		sess       ClarificationSession
		transcript []byte
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, user_id, question, personas, dialogue_kind, transcript, state, version, created_at, updated_at
		FROM clarification_sessions WHERE id=$1`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.Question, pq.Array(&sess.Personas), &sess.DialogueKind,
		&transcript, &sess.State, &sess.Version, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ClarificationSession{}, false, nil
	}
	if err != nil {
		return ClarificationSession{}, false, err
	}
	if err := json.Unmarshal(transcript, &sess.Transcript); err != nil {
		return ClarificationSession{}, false, fmt.Errorf("decode transcript: %w", err)
	}
	return sess, true, nil
}

// UpdateSessionTranscript replaces the transcript and state, guarded by the
// version the caller read. A stale version affects zero rows and surfaces as
// ErrVersionConflict.
func (s *Store) UpdateSessionTranscript(ctx context.Context, id string, transcript []engine.Turn, state string, version int) error {
	raw, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE clarification_sessions
		SET transcript=$2, state=$3, version=version+1, updated_at=now()
		WHERE id=$1 AND version=$4`,
		id, raw, state, version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM clarification_sessions WHERE id=$1`, id)
	return err
}

// Run operations

// CreateRun persists a completed dispatch and returns the local row id.
func (s *Store) CreateRun(ctx context.Context, run Run) (string, error) {
	recs, err := json.Marshal(run.Recommendations)
	if err != nil {
		return "", fmt.Errorf("marshal recommendations: %w", err)
	}
	var id string
	err = s.DB.QueryRowContext(ctx, `
		INSERT INTO runs (engine_run_id, user_id, task, turns, personas, recommendations)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		run.Ref.EngineID, run.UserID, run.Task, run.Turns, pq.Array(run.Personas), recs,
	).Scan(&id)
	return id, err
}

// GetRunByEngineID resolves a run by the engine-issued id, the namespace
// follow-up chat operates in.
func (s *Store) GetRunByEngineID(ctx context.Context, engineRunID string) (Run, bool, error) {
	return s.getRun(ctx, `
		SELECT id, engine_run_id, user_id, task, turns, personas, recommendations, created_at
		FROM runs WHERE engine_run_id=$1`, engineRunID)
}

// GetRun resolves a run by its local row id, the history-listing namespace.
func (s *Store) GetRun(ctx context.Context, localID string) (Run, bool, error) {
	return s.getRun(ctx, `
		SELECT id, engine_run_id, user_id, task, turns, personas, recommendations, created_at
		FROM runs WHERE id=$1`, localID)
}

func (s *Store) getRun(ctx context.Context, query string, arg interface{}) (Run, bool, error) {
	var (
		run  Run
		recs []byte
	)
	err := s.DB.QueryRowContext(ctx, query, arg).Scan(
		&run.Ref.LocalID, &run.Ref.EngineID, &run.UserID, &run.Task, &run.Turns,
		pq.Array(&run.Personas), &recs, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	if err := json.Unmarshal(recs, &run.Recommendations); err != nil {
		return Run{}, false, fmt.Errorf("decode recommendations: %w", err)
	}
	return run, true, nil
}

// ListRuns returns the owner's runs, newest first.
func (s *Store) ListRuns(ctx context.Context, userID string) ([]Run, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, engine_run_id, user_id, task, turns, personas, recommendations, created_at
		FROM runs WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			run  Run
			recs []byte
		)
		if err := rows.Scan(&run.Ref.LocalID, &run.Ref.EngineID, &run.UserID, &run.Task, &run.Turns,
			pq.Array(&run.Personas), &recs, &run.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(recs, &run.Recommendations); err != nil {
			return nil, fmt.Errorf("decode recommendations: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Agent memory operations

func (s *Store) CreateAgentMemory(ctx context.Context, mem AgentMemory) (string, error) {
	var transcript interface{}
	if len(mem.Transcript) > 0 {
		raw, err := json.Marshal(mem.Transcript)
		if err != nil {
			return "", fmt.Errorf("marshal transcript: %w", err)
		}
		transcript = raw
	}
	var runID interface{}
	if mem.RunID != "" {
		runID = mem.RunID
	}
	var id string
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO agent_memories (user_id, persona, content, run_id, transcript)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		mem.UserID, mem.Persona, mem.Content, runID, transcript,
	).Scan(&id)
	return id, err
}

// ListAgentMemories returns the owner's saved memories, optionally filtered
// by persona, newest first.
func (s *Store) ListAgentMemories(ctx context.Context, userID, personaFilter string) ([]AgentMemory, error) {
	query := `
		SELECT id, user_id, persona, content, COALESCE(run_id, ''), transcript, created_at
		FROM agent_memories WHERE user_id=$1`
	args := []interface{}{userID}
	if personaFilter != "" {
		query += ` AND persona=$2`
		args = append(args, personaFilter)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AgentMemory
	for rows.Next() {
		var (
			mem        AgentMemory
			transcript []byte
		)
		if err := rows.Scan(&mem.ID, &mem.UserID, &mem.Persona, &mem.Content, &mem.RunID, &transcript, &mem.CreatedAt); err != nil {
			return nil, err
		}
		if len(transcript) > 0 {
			if err := json.Unmarshal(transcript, &mem.Transcript); err != nil {
				return nil, fmt.Errorf("decode transcript: %w", err)
			}
		}
		out = append(out, mem)
	}
	return out, rows.Err()
}
