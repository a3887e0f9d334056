package store

import (
	"time"

	"github.com/tamgam/diya/internal/model"
)

// RecordMiss increments the miss count for a topic and clears any hit
// streak. Creates the row on first miss.
func (s *Store) RecordMiss(studentID int64, subjectID, topic string) error {
	_, err := s.db.Exec(
		`INSERT INTO weak_areas (student_id, subject_id, topic, miss_count, hit_streak, last_seen_at)
		 VALUES (?, ?, ?, 1, 0, ?)
		 ON CONFLICT(student_id, subject_id, topic)
		 DO UPDATE SET miss_count = miss_count + 1, hit_streak = 0, last_seen_at = excluded.last_seen_at`,
		studentID, subjectID, topic, time.Now(),
	)
	return err
}

// RecordHit notes a confident or correct interaction on a topic. Once the
// streak reaches resetAfter consecutive hits the weak area is considered
// recovered and its row is removed.
func (s *Store) RecordHit(studentID int64, subjectID, topic string, resetAfter int) error {
	res, err := s.db.Exec(
		`UPDATE weak_areas SET hit_streak = hit_streak + 1, last_seen_at = ?
		 WHERE student_id = ? AND subject_id = ? AND topic = ?`,
		time.Now(), studentID, subjectID, topic,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return err
	}
	_, err = s.db.Exec(
		`DELETE FROM weak_areas
		 WHERE student_id = ? AND subject_id = ? AND topic = ? AND hit_streak >= ?`,
		studentID, subjectID, topic, resetAfter,
	)
	return err
}

// ListWeakAreas returns a student's weak areas for a subject, most missed
// first.
func (s *Store) ListWeakAreas(studentID int64, subjectID string) ([]model.WeakArea, error) {
	rows, err := s.db.Query(
		`SELECT student_id, subject_id, topic, miss_count, hit_streak, last_seen_at
		 FROM weak_areas WHERE student_id = ? AND subject_id = ?
		 ORDER BY miss_count DESC, topic`,
		studentID, subjectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var areas []model.WeakArea
	for rows.Next() {
		var w model.WeakArea
		if err := rows.Scan(&w.StudentID, &w.SubjectID, &w.Topic, &w.MissCount, &w.HitStreak, &w.LastSeenAt); err != nil {
			return nil, err
		}
		areas = append(areas, w)
	}
	return areas, rows.Err()
}

// ListWeakAreasByStudent returns all of a student's weak areas across
// subjects, for the progress export.
func (s *Store) ListWeakAreasByStudent(studentID int64) ([]model.WeakArea, error) {
	rows, err := s.db.Query(
		`SELECT student_id, subject_id, topic, miss_count, hit_streak, last_seen_at
		 FROM weak_areas WHERE student_id = ? ORDER BY subject_id, miss_count DESC`,
		studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var areas []model.WeakArea
	for rows.Next() {
		var w model.WeakArea
		if err := rows.Scan(&w.StudentID, &w.SubjectID, &w.Topic, &w.MissCount, &w.HitStreak, &w.LastSeenAt); err != nil {
			return nil, err
		}
		areas = append(areas, w)
	}
	return areas, rows.Err()
}
