package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tamgam/diya/internal/model"
)

// ErrAlreadyIssued reports an attempt to regenerate an assessment for a
// class that already has an issued item set.
var ErrAlreadyIssued = errors.New("assessment already issued for class")

// ErrAlreadySubmitted reports a second submission for the same
// (student, class) pair.
var ErrAlreadySubmitted = errors.New("assessment already submitted")

// InsertItems stores a freshly generated item set for a class. Fails with
// ErrAlreadyIssued if items exist, so an issued assessment stays fixed.
func (s *Store) InsertItems(classID string, items []model.AssessmentItem) ([]model.AssessmentItem, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM assessment_items WHERE class_id = ?`, classID,
	).Scan(&existing); err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, ErrAlreadyIssued
	}

	now := time.Now()
	out := make([]model.AssessmentItem, 0, len(items))
	for _, it := range items {
		opts, err := json.Marshal(it.Options)
		if err != nil {
			return nil, err
		}
		srcs, err := json.Marshal(it.SourceChunkIDs)
		if err != nil {
			return nil, err
		}
		res, err := tx.Exec(
			`INSERT INTO assessment_items (class_id, tier, topic, question_text, options, correct_answer, explanation, source_chunk_ids, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			classID, string(it.Tier), it.Topic, it.QuestionText, string(opts), it.CorrectAnswer, it.Explanation, string(srcs), now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert item: %w", err)
		}
		it.ID, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
		it.ClassID = classID
		out = append(out, it)
	}
	return out, tx.Commit()
}

// HasItems reports whether a class already has an issued assessment.
func (s *Store) HasItems(classID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM assessment_items WHERE class_id = ?`, classID).Scan(&n)
	return n > 0, err
}

// ItemsForClass returns the issued item set in insertion order.
func (s *Store) ItemsForClass(classID string) ([]model.AssessmentItem, error) {
	rows, err := s.db.Query(
		`SELECT id, class_id, tier, topic, question_text, options, correct_answer, explanation, source_chunk_ids
		 FROM assessment_items WHERE class_id = ? ORDER BY id`, classID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.AssessmentItem
	for rows.Next() {
		var it model.AssessmentItem
		var tier, opts, srcs string
		if err := rows.Scan(&it.ID, &it.ClassID, &tier, &it.Topic, &it.QuestionText, &opts, &it.CorrectAnswer, &it.Explanation, &srcs); err != nil {
			return nil, err
		}
		it.Tier = model.DifficultyTier(tier)
		if err := json.Unmarshal([]byte(opts), &it.Options); err != nil {
			return nil, fmt.Errorf("decode options for item %d: %w", it.ID, err)
		}
		if err := json.Unmarshal([]byte(srcs), &it.SourceChunkIDs); err != nil {
			return nil, fmt.Errorf("decode sources for item %d: %w", it.ID, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// InsertSubmission records a scored attempt. The UNIQUE(student_id, class_id)
// constraint enforces one attempt per student per class.
func (s *Store) InsertSubmission(sub model.AssessmentSubmission) error {
	results, err := json.Marshal(sub.Results)
	if err != nil {
		return err
	}
	var exists int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM assessment_submissions WHERE student_id = ? AND class_id = ?`,
		sub.StudentID, sub.ClassID,
	).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return ErrAlreadySubmitted
	}
	_, err = s.db.Exec(
		`INSERT INTO assessment_submissions (id, student_id, class_id, subject_id, raw_score, results, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.StudentID, sub.ClassID, sub.SubjectID, sub.RawScore, string(results), sub.SubmittedAt,
	)
	return err
}

// GetSubmission returns a student's attempt for a class, or nil.
func (s *Store) GetSubmission(studentID int64, classID string) (*model.AssessmentSubmission, error) {
	var sub model.AssessmentSubmission
	var results string
	err := s.db.QueryRow(
		`SELECT id, student_id, class_id, subject_id, raw_score, results, submitted_at
		 FROM assessment_submissions WHERE student_id = ? AND class_id = ?`,
		studentID, classID,
	).Scan(&sub.ID, &sub.StudentID, &sub.ClassID, &sub.SubjectID, &sub.RawScore, &results, &sub.SubmittedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(results), &sub.Results); err != nil {
		return nil, fmt.Errorf("decode results for submission %s: %w", sub.ID, err)
	}
	return &sub, nil
}

// ListSubmissionsByStudent returns submission summaries, newest first.
// Empty subjectID means all subjects.
func (s *Store) ListSubmissionsByStudent(studentID int64, subjectID string) ([]model.SubmissionSummary, error) {
	query := `SELECT id, class_id, subject_id, raw_score, results, submitted_at
	          FROM assessment_submissions WHERE student_id = ?`
	args := []any{studentID}
	if subjectID != "" {
		query += ` AND subject_id = ?`
		args = append(args, subjectID)
	}
	query += ` ORDER BY submitted_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var summaries []model.SubmissionSummary
	for rows.Next() {
		var sm model.SubmissionSummary
		var results string
		if err := rows.Scan(&sm.ID, &sm.ClassID, &sm.SubjectID, &sm.RawScore, &results, &sm.SubmittedAt); err != nil {
			return nil, err
		}
		var rs []model.ItemResult
		if err := json.Unmarshal([]byte(results), &rs); err != nil {
			return nil, fmt.Errorf("decode results for submission %s: %w", sm.ID, err)
		}
		sm.TotalItems = len(rs)
		for _, r := range rs {
			if r.Correct {
				sm.CorrectCount++
			}
		}
		summaries = append(summaries, sm)
	}
	return summaries, rows.Err()
}

// ListRecentScores returns up to n most recent raw scores for
// (student, subject), oldest first so callers can fold them in order.
func (s *Store) ListRecentScores(studentID int64, subjectID string, n int) ([]float64, error) {
	rows, err := s.db.Query(
		`SELECT raw_score FROM (
		   SELECT raw_score, submitted_at FROM assessment_submissions
		   WHERE student_id = ? AND subject_id = ?
		   ORDER BY submitted_at DESC LIMIT ?
		 ) ORDER BY submitted_at`,
		studentID, subjectID, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var scores []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		scores = append(scores, v)
	}
	return scores, rows.Err()
}
