package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		subject_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (student_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS classes (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		indexed_at DATETIME,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_classes_subject ON classes(subject_id);

	CREATE TABLE IF NOT EXISTS transcript_chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		class_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		text TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		embedding BLOB,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (class_id) REFERENCES classes(id)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_class ON transcript_chunks(class_id);

	CREATE TABLE IF NOT EXISTS understanding_profiles (
		student_id INTEGER NOT NULL,
		subject_id TEXT NOT NULL,
		level INTEGER NOT NULL DEFAULT 3,
		window_count INTEGER NOT NULL DEFAULT 0,
		rolling_score REAL NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		last_evaluated_at DATETIME,
		PRIMARY KEY (student_id, subject_id)
	);

	CREATE TABLE IF NOT EXISTS weak_areas (
		student_id INTEGER NOT NULL,
		subject_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		miss_count INTEGER NOT NULL DEFAULT 0,
		hit_streak INTEGER NOT NULL DEFAULT 0,
		last_seen_at DATETIME NOT NULL,
		PRIMARY KEY (student_id, subject_id, topic)
	);

	CREATE TABLE IF NOT EXISTS assessment_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		class_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		question_text TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		correct_answer TEXT NOT NULL,
		explanation TEXT NOT NULL DEFAULT '',
		source_chunk_ids TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (class_id) REFERENCES classes(id)
	);
	CREATE INDEX IF NOT EXISTS idx_items_class ON assessment_items(class_id);

	CREATE TABLE IF NOT EXISTS assessment_submissions (
		id TEXT PRIMARY KEY,
		student_id INTEGER NOT NULL,
		class_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		raw_score REAL NOT NULL,
		results TEXT NOT NULL DEFAULT '[]',
		submitted_at DATETIME NOT NULL,
		UNIQUE (student_id, class_id),
		FOREIGN KEY (student_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS tutor_sessions (
		id TEXT PRIMARY KEY,
		student_id INTEGER NOT NULL,
		class_id TEXT NOT NULL DEFAULT '',
		subject_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (student_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_tutor_sessions_student ON tutor_sessions(student_id);

	CREATE TABLE IF NOT EXISTS tutor_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		turn_index INTEGER NOT NULL,
		query_text TEXT NOT NULL,
		response_text TEXT NOT NULL,
		grounded INTEGER NOT NULL DEFAULT 0,
		retrieved_chunk_ids TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES tutor_sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_tutor_turns_session ON tutor_turns(session_id);

	CREATE TABLE IF NOT EXISTS engine_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}
