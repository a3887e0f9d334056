package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tamgam/diya/internal/llm"
	"github.com/tamgam/diya/internal/llm/prompts"
	"github.com/tamgam/diya/internal/model"
)

var (
	// ErrNoEntitlement reports a question against a subject or class the
	// student has no active subscription for.
	ErrNoEntitlement = errors.New("student is not entitled to this content")
	// ErrSessionNotFound reports an unknown session ID.
	ErrSessionNotFound = errors.New("tutor session not found")
	// ErrForbidden reports access to another student's session.
	ErrForbidden = errors.New("session belongs to another student")
)

// Store is the persistence surface the tutor needs.
type Store interface {
	GetClass(id string) (*model.Class, error)
	EntitledClassIDs(studentID int64, subjectID string) ([]string, error)
	CreateTutorSession(sess model.TutorSession) error
	GetTutorSession(id string) (*model.TutorSession, error)
	RecentTurns(sessionID string, n int) ([]model.TutorTurn, error)
	AddTurn(turn model.TutorTurn) (model.TutorTurn, error)
	RecordMiss(studentID int64, subjectID, topic string) error
	RecordHit(studentID int64, subjectID, topic string, resetAfter int) error
}

// Retriever finds relevant class material for a query.
type Retriever interface {
	Search(ctx context.Context, query string, classIDs []string) ([]model.RetrievedChunk, error)
}

// Generator is the LLM surface the tutor needs.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, history []llm.Message, userMsg string) (string, error)
}

// Leveler reads the student's current mastery level.
type Leveler interface {
	Level(studentID int64, subjectID string) (int, error)
}

// Service runs tutoring conversations.
type Service struct {
	store     Store
	retriever Retriever
	llm       Generator
	leveler   Leveler
	cfg       model.EngineConfig
}

func New(store Store, retriever Retriever, llm Generator, leveler Leveler, cfg model.EngineConfig) *Service {
	return &Service{store: store, retriever: retriever, llm: llm, leveler: leveler, cfg: cfg}
}

// AskRequest is one student question, optionally continuing a session.
type AskRequest struct {
	StudentID int64
	SessionID string // empty starts a new session
	SubjectID string // required when starting a session
	ClassID   string // optional; narrows retrieval to one class
	Query     string
}

// Answer is the outcome of one tutoring turn.
type Answer struct {
	SessionID string
	Turn      model.TutorTurn
	Chunks    []model.RetrievedChunk // material the response cites, empty when not grounded
	Level     int
}

// Ask answers a student question grounded in entitled class material. When
// nothing clears the confidence floor the answer is generated without
// grounding and flagged as such on the stored turn.
func (s *Service) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	query := prompts.SanitizeQuery(req.Query)

	sess, err := s.resolveSession(req)
	if err != nil {
		return nil, err
	}

	scope, topic, err := s.scope(req.StudentID, sess)
	if err != nil {
		return nil, err
	}

	lvl, err := s.leveler.Level(req.StudentID, sess.SubjectID)
	if err != nil {
		return nil, err
	}

	chunks, err := s.retriever.Search(ctx, query, scope)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	grounded := len(chunks) > 0

	history, err := s.history(sess.ID)
	if err != nil {
		return nil, err
	}

	var system string
	if grounded {
		system = prompts.TutorSystem(lvl, chunks)
	} else {
		system = prompts.TutorSystemUngrounded(lvl)
	}

	response, err := s.llm.Generate(ctx, system, history, query)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	chunkIDs := make([]int64, len(chunks))
	for i, rc := range chunks {
		chunkIDs[i] = rc.Chunk.ID
	}
	turn, err := s.store.AddTurn(model.TutorTurn{
		SessionID:         sess.ID,
		QueryText:         query,
		ResponseText:      response,
		Grounded:          grounded,
		RetrievedChunkIDs: chunkIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("record turn: %w", err)
	}

	// A question the material cannot answer marks the topic weak; a
	// well-grounded exchange counts toward recovery.
	if grounded {
		err = s.store.RecordHit(req.StudentID, sess.SubjectID, topic, s.cfg.WeakAreaStreak)
	} else {
		err = s.store.RecordMiss(req.StudentID, sess.SubjectID, topic)
	}
	if err != nil {
		slog.Warn("weak area update failed", "topic", topic, "error", err)
	}

	slog.Info("tutor turn",
		"session_id", sess.ID,
		"student_id", req.StudentID,
		"grounded", grounded,
		"chunks", len(chunks),
		"level", lvl)
	return &Answer{SessionID: sess.ID, Turn: turn, Chunks: chunks, Level: lvl}, nil
}

// resolveSession loads an existing session (verifying ownership) or starts
// a new one.
func (s *Service) resolveSession(req AskRequest) (*model.TutorSession, error) {
	if req.SessionID != "" {
		sess, err := s.store.GetTutorSession(req.SessionID)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return nil, ErrSessionNotFound
		}
		if sess.StudentID != req.StudentID {
			return nil, ErrForbidden
		}
		return sess, nil
	}

	subjectID := req.SubjectID
	if req.ClassID != "" {
		class, err := s.store.GetClass(req.ClassID)
		if err != nil {
			return nil, err
		}
		if class == nil {
			return nil, fmt.Errorf("unknown class %q", req.ClassID)
		}
		subjectID = class.SubjectID
	}
	if subjectID == "" {
		return nil, errors.New("subject or class required to start a session")
	}

	now := time.Now()
	sess := &model.TutorSession{
		ID:        uuid.NewString(),
		StudentID: req.StudentID,
		ClassID:   req.ClassID,
		SubjectID: subjectID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateTutorSession(*sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// scope computes the classes retrieval may touch for this session, and the
// topic label used for weak-area bookkeeping. Entitlement is re-checked on
// every turn, so a lapsed subscription cuts off mid-session.
func (s *Service) scope(studentID int64, sess *model.TutorSession) ([]string, string, error) {
	entitled, err := s.store.EntitledClassIDs(studentID, sess.SubjectID)
	if err != nil {
		return nil, "", err
	}
	if len(entitled) == 0 {
		return nil, "", ErrNoEntitlement
	}

	if sess.ClassID == "" {
		return entitled, sess.SubjectID, nil
	}
	for _, id := range entitled {
		if id == sess.ClassID {
			class, err := s.store.GetClass(sess.ClassID)
			if err != nil {
				return nil, "", err
			}
			topic := sess.ClassID
			if class != nil && class.Title != "" {
				topic = class.Title
			}
			return []string{sess.ClassID}, topic, nil
		}
	}
	return nil, "", ErrNoEntitlement
}

// history converts the session's recent turns into chat messages, one
// user/assistant pair per turn.
func (s *Service) history(sessionID string) ([]llm.Message, error) {
	turns, err := s.store.RecentTurns(sessionID, s.cfg.HistoryTurns)
	if err != nil {
		return nil, err
	}
	msgs := make([]llm.Message, 0, 2*len(turns))
	for _, t := range turns {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: t.QueryText},
			llm.Message{Role: llm.RoleAssistant, Content: t.ResponseText},
		)
	}
	return msgs, nil
}
