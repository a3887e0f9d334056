package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tamgam/diya/internal/model"
)

// CreateTutorSession persists a new tutoring conversation.
func (s *Store) CreateTutorSession(sess model.TutorSession) error {
	_, err := s.db.Exec(
		`INSERT INTO tutor_sessions (id, student_id, class_id, subject_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.StudentID, sess.ClassID, sess.SubjectID, sess.CreatedAt, sess.UpdatedAt,
	)
	return err
}

// GetTutorSession returns a session by ID, or nil if unknown.
func (s *Store) GetTutorSession(id string) (*model.TutorSession, error) {
	var sess model.TutorSession
	err := s.db.QueryRow(
		`SELECT id, student_id, class_id, subject_id, created_at, updated_at
		 FROM tutor_sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.StudentID, &sess.ClassID, &sess.SubjectID, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListTutorSessions returns a student's sessions, most recently active first.
func (s *Store) ListTutorSessions(studentID int64) ([]model.SessionSummary, error) {
	rows, err := s.db.Query(
		`SELECT ts.id, ts.class_id, ts.subject_id, ts.created_at, ts.updated_at,
		        (SELECT COUNT(*) FROM tutor_turns t WHERE t.session_id = ts.id)
		 FROM tutor_sessions ts WHERE ts.student_id = ?
		 ORDER BY ts.updated_at DESC`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []model.SessionSummary
	for rows.Next() {
		var sm model.SessionSummary
		if err := rows.Scan(&sm.ID, &sm.ClassID, &sm.SubjectID, &sm.CreatedAt, &sm.LastMessageAt, &sm.TurnCount); err != nil {
			return nil, err
		}
		sessions = append(sessions, sm)
	}
	return sessions, rows.Err()
}

// AddTurn appends an exchange to a session and bumps the session's
// updated_at. The turn index is assigned inside the transaction so
// concurrent appends cannot collide.
func (s *Store) AddTurn(turn model.TutorTurn) (model.TutorTurn, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return turn, err
	}
	defer tx.Rollback()

	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM tutor_turns WHERE session_id = ?`, turn.SessionID,
	).Scan(&turn.TurnIndex); err != nil {
		return turn, err
	}

	chunkIDs, err := json.Marshal(turn.RetrievedChunkIDs)
	if err != nil {
		return turn, err
	}
	now := time.Now()
	turn.CreatedAt = now
	res, err := tx.Exec(
		`INSERT INTO tutor_turns (session_id, turn_index, query_text, response_text, grounded, retrieved_chunk_ids, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.SessionID, turn.TurnIndex, turn.QueryText, turn.ResponseText, turn.Grounded, string(chunkIDs), now,
	)
	if err != nil {
		return turn, fmt.Errorf("insert turn: %w", err)
	}
	turn.ID, err = res.LastInsertId()
	if err != nil {
		return turn, err
	}

	if _, err := tx.Exec(
		`UPDATE tutor_sessions SET updated_at = ? WHERE id = ?`, now, turn.SessionID,
	); err != nil {
		return turn, err
	}
	return turn, tx.Commit()
}

// ListTurns returns a session's turns in order.
func (s *Store) ListTurns(sessionID string) ([]model.TutorTurn, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, turn_index, query_text, response_text, grounded, retrieved_chunk_ids, created_at
		 FROM tutor_turns WHERE session_id = ? ORDER BY turn_index`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var turns []model.TutorTurn
	for rows.Next() {
		var t model.TutorTurn
		var chunkIDs string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.TurnIndex, &t.QueryText, &t.ResponseText, &t.Grounded, &chunkIDs, &t.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(chunkIDs), &t.RetrievedChunkIDs); err != nil {
			return nil, fmt.Errorf("decode chunk ids for turn %d: %w", t.ID, err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// RecentTurns returns the last n turns of a session in chronological order,
// for the prompt history window.
func (s *Store) RecentTurns(sessionID string, n int) ([]model.TutorTurn, error) {
	turns, err := s.ListTurns(sessionID)
	if err != nil {
		return nil, err
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns, nil
}
