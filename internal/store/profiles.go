package store

import (
	"database/sql"
	"errors"

	"github.com/tamgam/diya/internal/model"
)

// ErrProfileConflict reports a lost optimistic-concurrency race on a
// profile update. Callers re-read and retry.
var ErrProfileConflict = errors.New("understanding profile was modified concurrently")

// GetProfile returns the understanding profile for (student, subject), or
// nil if none exists yet.
func (s *Store) GetProfile(studentID int64, subjectID string) (*model.UnderstandingProfile, error) {
	var p model.UnderstandingProfile
	err := s.db.QueryRow(
		`SELECT student_id, subject_id, level, window_count, rolling_score, version, last_evaluated_at
		 FROM understanding_profiles WHERE student_id = ? AND subject_id = ?`,
		studentID, subjectID,
	).Scan(&p.StudentID, &p.SubjectID, &p.Level, &p.WindowCount, &p.RollingScore, &p.Version, &p.LastEvaluatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetOrCreateProfile returns the profile, lazily creating it at the
// neutral default level on first interaction.
func (s *Store) GetOrCreateProfile(studentID int64, subjectID string) (*model.UnderstandingProfile, error) {
	p, err := s.GetProfile(studentID, subjectID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	_, err = s.db.Exec(
		`INSERT INTO understanding_profiles (student_id, subject_id, level, window_count, rolling_score, version)
		 VALUES (?, ?, 3, 0, 0, 0)
		 ON CONFLICT(student_id, subject_id) DO NOTHING`,
		studentID, subjectID,
	)
	if err != nil {
		return nil, err
	}
	return s.GetProfile(studentID, subjectID)
}

// UpdateProfile writes the profile back, guarded by its version. Returns
// ErrProfileConflict if another writer got there first.
func (s *Store) UpdateProfile(p model.UnderstandingProfile) error {
	res, err := s.db.Exec(
		`UPDATE understanding_profiles
		 SET level = ?, window_count = ?, rolling_score = ?, version = version + 1, last_evaluated_at = ?
		 WHERE student_id = ? AND subject_id = ? AND version = ?`,
		p.Level, p.WindowCount, p.RollingScore, p.LastEvaluatedAt,
		p.StudentID, p.SubjectID, p.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrProfileConflict
	}
	return nil
}

// ListProfilesByStudent returns all of a student's profiles.
func (s *Store) ListProfilesByStudent(studentID int64) ([]model.UnderstandingProfile, error) {
	rows, err := s.db.Query(
		`SELECT student_id, subject_id, level, window_count, rolling_score, version, last_evaluated_at
		 FROM understanding_profiles WHERE student_id = ? ORDER BY subject_id`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var profiles []model.UnderstandingProfile
	for rows.Next() {
		var p model.UnderstandingProfile
		if err := rows.Scan(&p.StudentID, &p.SubjectID, &p.Level, &p.WindowCount, &p.RollingScore, &p.Version, &p.LastEvaluatedAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}
