package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tamgam/diya/internal/llm/prompts"
	"github.com/tamgam/diya/internal/model"
)

// ErrNotIssued reports a submission against a class with no generated
// assessment.
var ErrNotIssued = errors.New("no assessment issued for class")

// Generator is the LLM surface the service needs.
type Generator interface {
	GenerateJSON(ctx context.Context, systemPrompt, userMsg string, out any) error
}

// Store is the persistence surface the service needs.
type Store interface {
	GetClass(id string) (*model.Class, error)
	ListChunksByClass(classID string) ([]model.TranscriptChunk, error)
	ItemsForClass(classID string) ([]model.AssessmentItem, error)
	InsertItems(classID string, items []model.AssessmentItem) ([]model.AssessmentItem, error)
	InsertSubmission(sub model.AssessmentSubmission) error
	RecordMiss(studentID int64, subjectID, topic string) error
	RecordHit(studentID int64, subjectID, topic string, resetAfter int) error
}

// Leveler folds scores into understanding profiles.
type Leveler interface {
	RecordScore(studentID int64, subjectID string, score float64) (*model.UnderstandingProfile, error)
	Level(studentID int64, subjectID string) (int, error)
}

// Service generates and scores assessments.
type Service struct {
	store   Store
	llm     Generator
	leveler Leveler
	cfg     model.EngineConfig
}

func New(store Store, llm Generator, leveler Leveler, cfg model.EngineConfig) *Service {
	return &Service{store: store, llm: llm, leveler: leveler, cfg: cfg}
}

// Generate builds the item set for a class, calibrated to the requesting
// student's current level. A class gets exactly one issued set; a repeat
// call fails with the store's already-issued error.
func (s *Service) Generate(ctx context.Context, studentID int64, classID string) ([]model.AssessmentItem, error) {
	class, err := s.store.GetClass(classID)
	if err != nil {
		return nil, err
	}
	if class == nil {
		return nil, fmt.Errorf("unknown class %q", classID)
	}

	chunks, err := s.store.ListChunksByClass(classID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("class %s has no indexed material", classID)
	}

	level, err := s.leveler.Level(studentID, class.SubjectID)
	if err != nil {
		return nil, err
	}

	sourceIDs := make([]int64, len(chunks))
	for i, c := range chunks {
		sourceIDs[i] = c.ID
	}
	material := prompts.AssessmentMaterial(chunks)

	counts := Apportion(s.cfg.AssessmentSize)
	var items []model.AssessmentItem
	for _, ts := range tierShares {
		count := counts[ts.tier]
		if count == 0 {
			continue
		}
		var set prompts.GeneratedItemSet
		if err := s.llm.GenerateJSON(ctx, prompts.AssessmentSystem(ts.tier, level, count), material, &set); err != nil {
			return nil, fmt.Errorf("generate %s-tier items: %w", ts.tier, err)
		}
		tierItems, err := validateItems(set.Items, count)
		if err != nil {
			return nil, fmt.Errorf("%s-tier items: %w", ts.tier, err)
		}
		for _, gi := range tierItems {
			items = append(items, model.AssessmentItem{
				ClassID:        classID,
				Tier:           ts.tier,
				Topic:          gi.Topic,
				QuestionText:   gi.Question,
				Options:        gi.Options,
				CorrectAnswer:  gi.Answer,
				Explanation:    gi.Explanation,
				SourceChunkIDs: sourceIDs,
			})
		}
	}

	issued, err := s.store.InsertItems(classID, items)
	if err != nil {
		return nil, err
	}
	slog.Info("assessment issued", "class_id", classID, "items", len(issued), "level", level)
	return issued, nil
}

// validateItems rejects model output that breaks the item contract before
// it can reach the database.
func validateItems(items []prompts.GeneratedItem, want int) ([]prompts.GeneratedItem, error) {
	if len(items) < want {
		return nil, fmt.Errorf("got %d items, want %d", len(items), want)
	}
	items = items[:want]
	for i, it := range items {
		if it.Question == "" {
			return nil, fmt.Errorf("item %d has no question", i)
		}
		if len(it.Options) != 4 {
			return nil, fmt.Errorf("item %d has %d options, want 4", i, len(it.Options))
		}
		found := false
		for _, opt := range it.Options {
			if opt == it.Answer {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("item %d answer is not among its options", i)
		}
	}
	return items, nil
}

// Score grades a set of answers against the issued items. Items within a
// tier weigh the same; harder tiers weigh more. The raw score is earned
// over maximum possible points, always in [0,1]. Unanswered items score
// zero.
func Score(items []model.AssessmentItem, answers []model.ItemAnswer) (float64, []model.ItemResult) {
	byItem := make(map[int64]string, len(answers))
	for _, a := range answers {
		byItem[a.ItemID] = a.Answer
	}

	var earned, max int
	results := make([]model.ItemResult, 0, len(items))
	for _, it := range items {
		points := model.TierPoints[it.Tier]
		max += points
		given := byItem[it.ID]
		correct := given != "" && given == it.CorrectAnswer
		if correct {
			earned += points
		}
		results = append(results, model.ItemResult{
			ItemID:        it.ID,
			Tier:          it.Tier,
			Topic:         it.Topic,
			YourAnswer:    given,
			CorrectAnswer: it.CorrectAnswer,
			Correct:       correct,
			Explanation:   it.Explanation,
		})
	}
	if max == 0 {
		return 0, results
	}
	return float64(earned) / float64(max), results
}

// Submit scores a student's answers, records the submission, folds the
// score into the level engine and updates weak-area bookkeeping. One
// submission per student per class.
func (s *Service) Submit(ctx context.Context, studentID int64, classID string, answers []model.ItemAnswer) (*model.AssessmentSubmission, *model.UnderstandingProfile, error) {
	class, err := s.store.GetClass(classID)
	if err != nil {
		return nil, nil, err
	}
	if class == nil {
		return nil, nil, fmt.Errorf("unknown class %q", classID)
	}

	items, err := s.store.ItemsForClass(classID)
	if err != nil {
		return nil, nil, err
	}
	if len(items) == 0 {
		return nil, nil, ErrNotIssued
	}

	rawScore, results := Score(items, answers)
	sub := model.AssessmentSubmission{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		ClassID:     classID,
		SubjectID:   class.SubjectID,
		RawScore:    rawScore,
		Results:     results,
		SubmittedAt: time.Now(),
	}
	if err := s.store.InsertSubmission(sub); err != nil {
		return nil, nil, err
	}

	for _, r := range results {
		if r.Topic == "" {
			continue
		}
		if r.Correct {
			err = s.store.RecordHit(studentID, class.SubjectID, r.Topic, s.cfg.WeakAreaStreak)
		} else {
			err = s.store.RecordMiss(studentID, class.SubjectID, r.Topic)
		}
		if err != nil {
			slog.Warn("weak area update failed", "topic", r.Topic, "error", err)
		}
	}

	profile, err := s.leveler.RecordScore(studentID, class.SubjectID, rawScore)
	if err != nil {
		return nil, nil, fmt.Errorf("record score: %w", err)
	}
	slog.Info("assessment submitted",
		"student_id", studentID,
		"class_id", classID,
		"raw_score", rawScore,
		"level", profile.Level)
	return &sub, profile, nil
}
