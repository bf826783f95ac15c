package clarify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/boardroom-ai/boardroom/internal/apperr"
	"github.com/boardroom-ai/boardroom/internal/engine"
	"github.com/boardroom-ai/boardroom/internal/store"
)

type stubEngine struct {
	initialQuestion string
	evalResult      engine.EvalResult
	evalErr         error
	dispatchResult  engine.DispatchResult
	dispatchErr     error
	dispatchedTasks []string
	evalCalls       int
}

func (s *stubEngine) InitialQuestion(_ context.Context, _ engine.ClarifyRequest) (string, error) {
	return s.initialQuestion, nil
}

func (s *stubEngine) Evaluate(_ context.Context, _ engine.ClarifyRequest) (engine.EvalResult, error) {
	s.evalCalls++
	return s.evalResult, s.evalErr
}

func (s *stubEngine) Dispatch(_ context.Context, req engine.DispatchRequest) (engine.DispatchResult, error) {
	s.dispatchedTasks = append(s.dispatchedTasks, req.Task)
	return s.dispatchResult, s.dispatchErr
}

func (s *stubEngine) Chat(_ context.Context, _ engine.ChatRequest) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubEngine) EvaluateFollowup(_ context.Context, _ engine.FollowupRequest) (bool, error) {
	return false, nil
}

func (s *stubEngine) CounterQuestions(_ context.Context, _ engine.CounterQuestionRequest) ([]string, error) {
	return nil, nil
}

func (s *stubEngine) ChatHistory(_ context.Context, _, _ string) ([]engine.ChatMessage, error) {
	return nil, nil
}

type memStore struct {
	sessions map[string]store.ClarificationSession
	runs     map[string]store.Run
	nextID   int
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]store.ClarificationSession),
		runs:     make(map[string]store.Run),
	}
}

func (m *memStore) CreateSession(_ context.Context, sess store.ClarificationSession) (string, error) {
	m.nextID++
	id := fmt.Sprintf("s%d", m.nextID)
	sess.ID = id
	sess.Version = 1
	m.sessions[id] = sess
	return id, nil
}

func (m *memStore) GetSession(_ context.Context, id string) (store.ClarificationSession, bool, error) {
	sess, ok := m.sessions[id]
	return sess, ok, nil
}

func (m *memStore) UpdateSessionTranscript(_ context.Context, id string, transcript []engine.Turn, state string, version int) error {
	sess, ok := m.sessions[id]
	if !ok || sess.Version != version {
		return store.ErrVersionConflict
	}
	sess.Transcript = transcript
	sess.State = state
	sess.Version++
	m.sessions[id] = sess
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, id string) error {
	delete(m.sessions, id)
	return nil
}

func (m *memStore) CreateRun(_ context.Context, run store.Run) (string, error) {
	m.nextID++
	id := fmt.Sprintf("r%d", m.nextID)
	run.Ref.LocalID = id
	m.runs[id] = run
	return id, nil
}

func (m *memStore) GetRunByEngineID(_ context.Context, engineRunID string) (store.Run, bool, error) {
	for _, run := range m.runs {
		if run.Ref.EngineID == engineRunID {
			return run, true, nil
		}
	}
	return store.Run{}, false, nil
}

func TestInitAlwaysAsksFirstQuestion(t *testing.T) {
	eng := &stubEngine{initialQuestion: "What is your current budget?"}
	st := newMemStore()
	o := NewOrchestrator(st, eng, 5, 1)

	res, err := o.Init(context.Background(), "u1", "Should we adopt AI?", []string{"Sam_Altman"}, "board", "")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if res.IsReady {
		t.Fatal("init must never report ready")
	}
	if res.CounterQuestion != "What is your current budget?" {
		t.Fatalf("unexpected counter question %q", res.CounterQuestion)
	}
	sess := st.sessions[res.SessionID]
	if len(sess.Transcript) != 2 {
		t.Fatalf("expected 2 transcript turns, got %d", len(sess.Transcript))
	}
	if sess.State != store.SessionAwaitingUserAnswer {
		t.Fatalf("unexpected state %q", sess.State)
	}
}

func TestInitValidation(t *testing.T) {
	o := NewOrchestrator(newMemStore(), &stubEngine{}, 5, 1)
	cases := []struct {
		name     string
		question string
		personas []string
		kind     string
	}{
		{"empty question", "  ", []string{"Sam_Altman"}, "board"},
		{"no personas", "q", nil, "board"},
		{"unknown persona", "q", []string{"Elon"}, "board"},
		{"unknown kind", "q", []string{"Sam_Altman"}, "podcast"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.Init(context.Background(), "u1", tc.question, tc.personas, tc.kind, "")
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestIterateSafetyCap(t *testing.T) {
	eng := &stubEngine{
		initialQuestion: "q1",
		evalResult:      engine.EvalResult{CounterQuestion: "another?", IsReady: false},
	}
	st := newMemStore()
	o := NewOrchestrator(st, eng, 5, 1)

	init, err := o.Init(context.Background(), "u1", "Should we adopt AI?", []string{"Sam_Altman"}, "board", "")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	var last IterateResult
	for i := 0; i < 4; i++ {
		last, err = o.Iterate(context.Background(), "u1", init.SessionID, "$2M", "")
		if err != nil {
			t.Fatalf("iterate %d: %v", i, err)
		}
		if last.IsReady {
			t.Fatalf("iterate %d: ready too early", i)
		}
	}
	// 5th user answer hits the cap even though the engine still wants more.
	last, err = o.Iterate(context.Background(), "u1", init.SessionID, "$2M", "")
	if err != nil {
		t.Fatalf("final iterate: %v", err)
	}
	if !last.IsReady || last.CounterQuestion != "" {
		t.Fatalf("cap not enforced: %+v", last)
	}
	if st.sessions[init.SessionID].State != store.SessionReady {
		t.Fatal("session not marked ready")
	}
}

func TestIterateOwnershipIsolation(t *testing.T) {
	eng := &stubEngine{initialQuestion: "q1", evalResult: engine.EvalResult{IsReady: true}}
	st := newMemStore()
	o := NewOrchestrator(st, eng, 5, 1)

	init, _ := o.Init(context.Background(), "alice", "q", []string{"Sam_Altman"}, "board", "")
	before := len(st.sessions[init.SessionID].Transcript)

	_, err := o.Iterate(context.Background(), "bob", init.SessionID, "answer", "")
	if apperr.KindOf(err) != apperr.KindAuthorization {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if got := len(st.sessions[init.SessionID].Transcript); got != before {
		t.Fatalf("transcript mutated: %d -> %d turns", before, got)
	}
	if eng.evalCalls != 0 {
		t.Fatal("engine must not be called for a foreign session")
	}
}

func TestIterateMutatesOnlyAfterEngineSuccess(t *testing.T) {
	eng := &stubEngine{initialQuestion: "q1", evalErr: apperr.Upstream(errors.New("boom"), "engine down")}
	st := newMemStore()
	o := NewOrchestrator(st, eng, 5, 1)

	init, _ := o.Init(context.Background(), "u1", "q", []string{"Sam_Altman"}, "board", "")
	before := st.sessions[init.SessionID]

	_, err := o.Iterate(context.Background(), "u1", init.SessionID, "answer", "")
	if apperr.KindOf(err) != apperr.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
	after := st.sessions[init.SessionID]
	if len(after.Transcript) != len(before.Transcript) || after.Version != before.Version {
		t.Fatal("session mutated despite engine failure")
	}
}

func TestIterateUnknownSession(t *testing.T) {
	o := NewOrchestrator(newMemStore(), &stubEngine{}, 5, 1)
	_, err := o.Iterate(context.Background(), "u1", "nope", "answer", "")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompleteEnrichesAndDeletesSession(t *testing.T) {
	eng := &stubEngine{
		initialQuestion: "What is your current budget?",
		evalResult:      engine.EvalResult{IsReady: true},
		dispatchResult: engine.DispatchResult{
			RunID:           "engine-run-1",
			Recommendations: map[string]string{"Sam_Altman": "Go for it."},
		},
	}
	st := newMemStore()
	o := NewOrchestrator(st, eng, 5, 1)

	init, _ := o.Init(context.Background(), "u1", "Should we adopt AI?", []string{"Sam_Altman"}, "board", "")
	if _, err := o.Iterate(context.Background(), "u1", init.SessionID, "$2M", ""); err != nil {
		t.Fatalf("iterate: %v", err)
	}

	res, err := o.Complete(context.Background(), "u1", init.SessionID, "")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Ref.ChatID() != "engine-run-1" {
		t.Fatalf("chat id must be the engine run id, got %q", res.Ref.ChatID())
	}
	if res.Ref.HistoryID() == "" || res.Ref.HistoryID() == "engine-run-1" {
		t.Fatalf("history id must be the local row id, got %q", res.Ref.HistoryID())
	}
	if len(eng.dispatchedTasks) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(eng.dispatchedTasks))
	}
	task := eng.dispatchedTasks[0]
	if !strings.HasPrefix(task, "Should we adopt AI?") {
		t.Fatalf("enriched task must start with the original question: %q", task)
	}
	if !strings.Contains(task, "User: $2M") || !strings.Contains(task, "AI: What is your current budget?") {
		t.Fatalf("enriched task missing transcript lines: %q", task)
	}
	if _, ok := st.sessions[init.SessionID]; ok {
		t.Fatal("session must be deleted after completion")
	}
}

func TestCompleteRequiresReady(t *testing.T) {
	eng := &stubEngine{initialQuestion: "q1"}
	st := newMemStore()
	o := NewOrchestrator(st, eng, 5, 1)

	init, _ := o.Init(context.Background(), "u1", "q", []string{"Sam_Altman"}, "board", "")
	_, err := o.Complete(context.Background(), "u1", init.SessionID, "")
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCompleteKeepsSessionWhenRunPersistFails(t *testing.T) {
	eng := &stubEngine{
		initialQuestion: "q1",
		evalResult:      engine.EvalResult{IsReady: true},
		dispatchResult:  engine.DispatchResult{RunID: "er1", Recommendations: map[string]string{}},
	}
	st := newMemStore()
	failing := &failingRunStore{memStore: st}
	o := NewOrchestrator(failing, eng, 5, 1)

	init, _ := o.Init(context.Background(), "u1", "q", []string{"Sam_Altman"}, "board", "")
	if _, err := o.Iterate(context.Background(), "u1", init.SessionID, "a", ""); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if _, err := o.Complete(context.Background(), "u1", init.SessionID, ""); err == nil {
		t.Fatal("expected persistence error")
	}
	if _, ok := st.sessions[init.SessionID]; !ok {
		t.Fatal("session must survive a failed run persist so complete can be retried")
	}
}

type failingRunStore struct{ *memStore }

func (f *failingRunStore) CreateRun(_ context.Context, _ store.Run) (string, error) {
	return "", errors.New("db down")
}

// staleReadStore serves reads one version behind the truth, simulating a
// concurrent iterate landing between our read and write.
type staleReadStore struct{ *memStore }

func (s *staleReadStore) GetSession(ctx context.Context, id string) (store.ClarificationSession, bool, error) {
	sess, ok, err := s.memStore.GetSession(ctx, id)
	if ok {
		sess.Version--
	}
	return sess, ok, err
}

func TestStaleVersionRejected(t *testing.T) {
	eng := &stubEngine{initialQuestion: "q1", evalResult: engine.EvalResult{CounterQuestion: "more?"}}
	st := newMemStore()
	o := NewOrchestrator(&staleReadStore{st}, eng, 5, 1)

	init, _ := o.Init(context.Background(), "u1", "q", []string{"Sam_Altman"}, "board", "")
	_, err := o.Iterate(context.Background(), "u1", init.SessionID, "a", "")
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestIterateWithoutCounterQuestionAwaitsOne(t *testing.T) {
	eng := &stubEngine{initialQuestion: "q1", evalResult: engine.EvalResult{IsReady: false}}
	st := newMemStore()
	o := NewOrchestrator(st, eng, 5, 1)

	init, _ := o.Init(context.Background(), "u1", "q", []string{"Sam_Altman"}, "board", "")
	res, err := o.Iterate(context.Background(), "u1", init.SessionID, "a", "")
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if res.IsReady || res.CounterQuestion != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	sess := st.sessions[init.SessionID]
	if sess.State != store.SessionAwaitingCounterQuestion {
		t.Fatalf("state: %q", sess.State)
	}
	if last := sess.Transcript[len(sess.Transcript)-1]; last.Role != engine.RoleUser {
		t.Fatalf("no assistant turn should be appended, last role %q", last.Role)
	}
}

type failingDeleteStore struct{ *memStore }

func (f *failingDeleteStore) DeleteSession(_ context.Context, _ string) error {
	return errors.New("db down")
}

func TestCompleteMarksCompletedWhenDeleteFails(t *testing.T) {
	eng := &stubEngine{
		initialQuestion: "q1",
		evalResult:      engine.EvalResult{IsReady: true},
		dispatchResult:  engine.DispatchResult{RunID: "er1", Recommendations: map[string]string{}},
	}
	st := newMemStore()
	o := NewOrchestrator(&failingDeleteStore{st}, eng, 5, 1)

	init, _ := o.Init(context.Background(), "u1", "q", []string{"Sam_Altman"}, "board", "")
	if _, err := o.Iterate(context.Background(), "u1", init.SessionID, "a", ""); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if _, err := o.Complete(context.Background(), "u1", init.SessionID, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	sess, ok := st.sessions[init.SessionID]
	if !ok || sess.State != store.SessionCompleted {
		t.Fatalf("surviving session must be marked completed, got %+v ok=%v", sess, ok)
	}
	if len(eng.dispatchedTasks) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(eng.dispatchedTasks))
	}
	// A retry must not dispatch a second meeting.
	if _, err := o.Complete(context.Background(), "u1", init.SessionID, ""); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict on retry, got %v", err)
	}
	if _, err := o.Iterate(context.Background(), "u1", init.SessionID, "a", ""); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict on iterate, got %v", err)
	}
	if len(eng.dispatchedTasks) != 1 {
		t.Fatalf("retry dispatched again: %d", len(eng.dispatchedTasks))
	}
}

func TestTurnsCarryTimestamps(t *testing.T) {
	eng := &stubEngine{initialQuestion: "q1", evalResult: engine.EvalResult{CounterQuestion: "more?"}}
	st := newMemStore()
	o := NewOrchestrator(st, eng, 5, 1)

	init, _ := o.Init(context.Background(), "u1", "q", []string{"Sam_Altman"}, "board", "")
	if _, err := o.Iterate(context.Background(), "u1", init.SessionID, "a", ""); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	for i, turn := range st.sessions[init.SessionID].Transcript {
		if turn.Timestamp.IsZero() {
			t.Fatalf("turn %d has no timestamp", i)
		}
	}
}

func TestValidationMessageKeepsVerbatimInput(t *testing.T) {
	o := NewOrchestrator(newMemStore(), &stubEngine{}, 5, 1)
	_, err := o.Init(context.Background(), "u1", "q", []string{"Sam_Altman"}, "100%board", "")
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "100%board") {
		t.Fatalf("input not preserved verbatim: %q", err.Error())
	}
}
