package store

import "database/sql"

// Metadata keys recorded by the engine.
const (
	MetaEmbeddingModel = "embedding_model"
	MetaEmbeddingDims  = "embedding_dims"
	MetaChatModel      = "chat_model"
)

// SetMetadata stores an engine-level key/value pair.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO engine_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a key, or "" when unset.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM engine_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
