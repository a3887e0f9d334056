package level

import (
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/tamgam/diya/internal/model"
	"github.com/tamgam/diya/internal/store"
)

// Transition computes the next mastery level from the current one and the
// rolling score of a completed evaluation window. At most one step per
// evaluation, clamped to the level bounds.
func Transition(current int, rollingScore, advanceAt, regressBelow float64) int {
	next := current
	switch {
	case rollingScore >= advanceAt:
		next++
	case rollingScore < regressBelow:
		next--
	}
	if next < model.MinLevel {
		next = model.MinLevel
	}
	if next > model.MaxLevel {
		next = model.MaxLevel
	}
	return next
}

// Store is the profile persistence the engine needs.
type Store interface {
	GetOrCreateProfile(studentID int64, subjectID string) (*model.UnderstandingProfile, error)
	UpdateProfile(p model.UnderstandingProfile) error
}

// Engine folds submission scores into understanding profiles and
// re-evaluates the level after every full window. Updates for the same
// (student, subject) are serialized.
type Engine struct {
	store Store
	cfg   model.EngineConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(store Store, cfg model.EngineConfig) *Engine {
	return &Engine{store: store, cfg: cfg, locks: make(map[string]*sync.Mutex)}
}

func (e *Engine) keyLock(studentID int64, subjectID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := strconv.FormatInt(studentID, 10) + "/" + subjectID
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

const maxConflictRetries = 3

// RecordScore folds one submission score in [0,1] into the student's
// profile. Every third submission closes the window: the level moves per
// Transition and the window restarts. Returns the updated profile.
func (e *Engine) RecordScore(studentID int64, subjectID string, score float64) (*model.UnderstandingProfile, error) {
	lock := e.keyLock(studentID, subjectID)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		p, err := e.store.GetOrCreateProfile(studentID, subjectID)
		if err != nil {
			return nil, err
		}

		// Fold the score into the window's running average.
		n := float64(p.WindowCount)
		p.RollingScore = (p.RollingScore*n + score) / (n + 1)
		p.WindowCount++

		if p.WindowCount >= model.EvaluationWindow {
			prev := p.Level
			p.Level = Transition(p.Level, p.RollingScore, e.cfg.AdvanceThreshold, e.cfg.RegressThreshold)
			if p.Level != prev {
				slog.Info("mastery level changed",
					"student_id", studentID,
					"subject_id", subjectID,
					"from", prev,
					"to", p.Level,
					"rolling_score", p.RollingScore)
			}
			now := time.Now()
			p.LastEvaluatedAt = &now
			p.WindowCount = 0
			p.RollingScore = 0
		}

		if err := e.store.UpdateProfile(*p); err != nil {
			if errors.Is(err, store.ErrProfileConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		p.Version++
		return p, nil
	}
	return nil, lastErr
}

// Level returns the student's current mastery level, defaulting new
// students to the neutral midpoint.
func (e *Engine) Level(studentID int64, subjectID string) (int, error) {
	p, err := e.store.GetOrCreateProfile(studentID, subjectID)
	if err != nil {
		return 0, err
	}
	return p.Level, nil
}
