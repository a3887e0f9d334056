package store

import (
	"database/sql"
	"time"

	"github.com/tamgam/diya/internal/model"
)

// UserCount returns the number of user accounts.
func (s *Store) UserCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// CreateUser inserts a new user and returns it with the assigned ID.
func (s *Store) CreateUser(username, displayName, passwordHash string, role model.UserRole) (*model.User, error) {
	now := time.Now()
	res, err := s.db.Exec(
		`INSERT INTO users (username, display_name, password_hash, role, active, created_at)
		 VALUES (?, ?, ?, ?, 1, ?)`,
		username, displayName, passwordHash, string(role), now,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &model.User{
		ID:           id,
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
	}, nil
}

// GetUserByUsername returns a user by username, or nil if unknown.
func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	return s.getUser(`WHERE username = ?`, username)
}

// GetUserByID returns a user by ID, or nil if unknown.
func (s *Store) GetUserByID(id int64) (*model.User, error) {
	return s.getUser(`WHERE id = ?`, id)
}

func (s *Store) getUser(where string, arg any) (*model.User, error) {
	var u model.User
	var role string
	err := s.db.QueryRow(
		`SELECT id, username, display_name, password_hash, role, active, created_at FROM users `+where, arg,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &role, &u.Active, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Role = model.UserRole(role)
	return &u, nil
}

// ListUsers returns all users ordered by username.
func (s *Store) ListUsers() ([]model.User, error) {
	rows, err := s.db.Query(
		`SELECT id, username, display_name, password_hash, role, active, created_at FROM users ORDER BY username`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		var u model.User
		var role string
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Role = model.UserRole(role)
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListUsersByRole returns the users with the given role.
func (s *Store) ListUsersByRole(role model.UserRole) ([]model.User, error) {
	rows, err := s.db.Query(
		`SELECT id, username, display_name, password_hash, role, active, created_at
		 FROM users WHERE role = ? ORDER BY username`, string(role),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		var u model.User
		var r string
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &r, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Role = model.UserRole(r)
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserActive enables or disables a user account.
func (s *Store) SetUserActive(id int64, active bool) error {
	_, err := s.db.Exec(`UPDATE users SET active = ? WHERE id = ?`, active, id)
	return err
}

// AddSubscription grants a student access to a subject.
func (s *Store) AddSubscription(studentID int64, subjectID string) error {
	_, err := s.db.Exec(
		`INSERT INTO subscriptions (student_id, subject_id, status, created_at) VALUES (?, ?, 'active', ?)`,
		studentID, subjectID, time.Now(),
	)
	return err
}

// SetSubscriptionStatus updates a subscription's lifecycle state.
func (s *Store) SetSubscriptionStatus(studentID int64, subjectID, status string) error {
	_, err := s.db.Exec(
		`UPDATE subscriptions SET status = ? WHERE student_id = ? AND subject_id = ?`,
		status, studentID, subjectID,
	)
	return err
}

// ActiveSubjects returns the subjects a student has an active subscription
// for.
func (s *Store) ActiveSubjects(studentID int64) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT subject_id FROM subscriptions WHERE student_id = ? AND status = 'active' ORDER BY subject_id`,
		studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subjects []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		subjects = append(subjects, id)
	}
	return subjects, rows.Err()
}

// EntitledClassIDs returns the classes of a subject the student may query,
// empty when no active subscription covers the subject. Retrieval must
// never reach past this set.
func (s *Store) EntitledClassIDs(studentID int64, subjectID string) ([]string, error) {
	var n int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM subscriptions WHERE student_id = ? AND subject_id = ? AND status = 'active'`,
		studentID, subjectID,
	).Scan(&n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return s.ListClassIDsBySubject(subjectID)
}
