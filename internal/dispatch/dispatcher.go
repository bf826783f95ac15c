// Package dispatch handles direct meeting submissions: duplicate suppression,
// forwarding to the recommendation engine, and run persistence.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/boardroom-ai/boardroom/internal/apperr"
	"github.com/boardroom-ai/boardroom/internal/dedup"
	"github.com/boardroom-ai/boardroom/internal/engine"
	"github.com/boardroom-ai/boardroom/internal/persona"
	"github.com/boardroom-ai/boardroom/internal/store"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardroom_dispatch_total",
		Help: "Meeting dispatch attempts by outcome.",
	}, []string{"outcome"})
	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "boardroom_dispatch_duration_seconds",
		Help:    "Wall time of successful engine dispatches.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)

// RunStore is the slice of persistence the dispatcher needs.
type RunStore interface {
	CreateRun(ctx context.Context, run store.Run) (string, error)
}

type Dispatcher struct {
	store        RunStore
	guard        dedup.Guard
	engine       engine.Engine
	defaultTurns int
	maxTurns     int
	logger       *log.Logger
}

func NewDispatcher(st RunStore, guard dedup.Guard, eng engine.Engine, defaultTurns, maxTurns int) *Dispatcher {
	return &Dispatcher{
		store:        st,
		guard:        guard,
		engine:       eng,
		defaultTurns: defaultTurns,
		maxTurns:     maxTurns,
		logger:       log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
	}
}

type Result struct {
	Ref             store.RunRef      `json:"ref"`
	Recommendations map[string]string `json:"recommendations"`
}

// Dispatch forwards a task to the engine unless an identical one passed
// through moments ago. A duplicate is rejected before any engine call.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, task string, personas []string, turns int, dialogueKind, userProfile string) (Result, error) {
	if strings.TrimSpace(task) == "" {
		return Result{}, apperr.Validation("task is required")
	}
	if len(personas) == 0 {
		return Result{}, apperr.Validation("at least one persona is required")
	}
	for _, p := range personas {
		if !persona.Valid(p) {
			return Result{}, apperr.Validation("unknown persona %q (valid: %s)", p, strings.Join(persona.Keys(), ", "))
		}
	}
	if !persona.ValidKind(dialogueKind) {
		return Result{}, apperr.Validation("unknown dialogue kind: %s", dialogueKind)
	}
	if turns == 0 {
		turns = d.defaultTurns
	}
	if turns < 1 || turns > d.maxTurns {
		return Result{}, apperr.Validation("turns must be between 1 and %d", d.maxTurns)
	}

	fp := dedup.Fingerprint(task, personas, dialogueKind)
	duplicate, err := d.guard.Check(ctx, fp)
	if err != nil {
		return Result{}, fmt.Errorf("dedup check: %w", err)
	}
	if duplicate {
		dispatchTotal.WithLabelValues("duplicate").Inc()
		return Result{}, apperr.Duplicate("an identical meeting was dispatched moments ago")
	}

	start := time.Now()
	out, err := d.engine.Dispatch(ctx, engine.DispatchRequest{
		Task:         task,
		Personas:     personas,
		Turns:        turns,
		DialogueKind: dialogueKind,
		UserProfile:  userProfile,
	})
	if err != nil {
		dispatchTotal.WithLabelValues("engine_error").Inc()
		return Result{}, err
	}
	dispatchDuration.Observe(time.Since(start).Seconds())

	localID, err := d.store.CreateRun(ctx, store.Run{
		Ref:             store.RunRef{EngineID: out.RunID},
		UserID:          userID,
		Task:            task,
		Turns:           turns,
		Personas:        personas,
		Recommendations: out.Recommendations,
	})
	if err != nil {
		dispatchTotal.WithLabelValues("persist_error").Inc()
		return Result{}, fmt.Errorf("persist run: %w", err)
	}
	dispatchTotal.WithLabelValues("ok").Inc()
	d.logger.Printf("dispatched run %s (engine %s) for user %s", localID, out.RunID, userID)
	return Result{
		Ref:             store.RunRef{LocalID: localID, EngineID: out.RunID},
		Recommendations: out.Recommendations,
	}, nil
}
