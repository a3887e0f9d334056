package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/tamgam/diya/internal/model"
)

// encodeVector serializes an embedding as little-endian float32 bytes.
// A nil vector stays NULL in the database so unembedded chunks are
// distinguishable from zero vectors.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// UpsertClass creates the class row if missing, or updates its title/subject.
func (s *Store) UpsertClass(c model.Class) error {
	_, err := s.db.Exec(
		`INSERT INTO classes (id, subject_id, title, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET subject_id = excluded.subject_id, title = excluded.title`,
		c.ID, c.SubjectID, c.Title, time.Now(),
	)
	return err
}

// GetClass returns a class by ID, or nil if unknown.
func (s *Store) GetClass(id string) (*model.Class, error) {
	var c model.Class
	err := s.db.QueryRow(
		`SELECT id, subject_id, title, indexed_at, created_at FROM classes WHERE id = ?`, id,
	).Scan(&c.ID, &c.SubjectID, &c.Title, &c.IndexedAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListClassIDsBySubject returns all class IDs for a subject.
func (s *Store) ListClassIDsBySubject(subjectID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM classes WHERE subject_id = ? ORDER BY created_at`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceChunks atomically replaces a class's chunk set. The old chunks
// stay reachable until the transaction commits, so a failed re-index never
// leaves the class half-indexed. Returns the IDs of the inserted chunks in
// ordinal order.
func (s *Store) ReplaceChunks(classID string, chunks []model.TranscriptChunk) ([]int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM transcript_chunks WHERE class_id = ?`, classID); err != nil {
		return nil, fmt.Errorf("delete prior chunks: %w", err)
	}

	now := time.Now()
	ids := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		res, err := tx.Exec(
			`INSERT INTO transcript_chunks (class_id, subject_id, ordinal, text, token_count, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			classID, c.SubjectID, c.Ordinal, c.Text, c.TokenCnt, encodeVector(c.Embedding), now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert chunk %d: %w", c.Ordinal, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if _, err := tx.Exec(`UPDATE classes SET indexed_at = ? WHERE id = ?`, now, classID); err != nil {
		return nil, fmt.Errorf("stamp class: %w", err)
	}

	return ids, tx.Commit()
}

// ListEmbeddedChunks returns the retrievable chunks for the given classes,
// joined with each class's index time for recency tie-breaks. Chunks
// without an embedding are excluded.
func (s *Store) ListEmbeddedChunks(classIDs []string) ([]model.TranscriptChunk, map[string]time.Time, error) {
	if len(classIDs) == 0 {
		return nil, nil, nil
	}
	query := `SELECT c.id, c.class_id, c.subject_id, c.ordinal, c.text, c.token_count, c.embedding, c.created_at, cl.indexed_at
	          FROM transcript_chunks c
	          JOIN classes cl ON cl.id = c.class_id
	          WHERE c.embedding IS NOT NULL AND c.class_id IN (`
	args := make([]any, 0, len(classIDs))
	for i, id := range classIDs {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, id)
	}
	query += ")"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var chunks []model.TranscriptChunk
	indexedAt := make(map[string]time.Time)
	for rows.Next() {
		var c model.TranscriptChunk
		var emb []byte
		var classIndexed *time.Time
		if err := rows.Scan(&c.ID, &c.ClassID, &c.SubjectID, &c.Ordinal, &c.Text, &c.TokenCnt, &emb, &c.CreatedAt, &classIndexed); err != nil {
			return nil, nil, err
		}
		c.Embedding = decodeVector(emb)
		if classIndexed != nil {
			indexedAt[c.ClassID] = *classIndexed
		}
		chunks = append(chunks, c)
	}
	return chunks, indexedAt, rows.Err()
}

// ListChunksByClass returns all chunks for a class in ordinal order,
// including unembedded ones.
func (s *Store) ListChunksByClass(classID string) ([]model.TranscriptChunk, error) {
	rows, err := s.db.Query(
		`SELECT id, class_id, subject_id, ordinal, text, token_count, embedding, created_at
		 FROM transcript_chunks WHERE class_id = ? ORDER BY ordinal`, classID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chunks []model.TranscriptChunk
	for rows.Next() {
		var c model.TranscriptChunk
		var emb []byte
		if err := rows.Scan(&c.ID, &c.ClassID, &c.SubjectID, &c.Ordinal, &c.Text, &c.TokenCnt, &emb, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Embedding = decodeVector(emb)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// EmbeddingStats returns indexing coverage for a class.
func (s *Store) EmbeddingStats(classID string) (model.EmbeddingStats, error) {
	stats := model.EmbeddingStats{ClassID: classID}
	err := s.db.QueryRow(
		`SELECT COUNT(*),
		        COUNT(embedding),
		        COUNT(*) - COUNT(embedding)
		 FROM transcript_chunks WHERE class_id = ?`, classID,
	).Scan(&stats.TotalChunks, &stats.EmbeddedChunks, &stats.FailedChunks)
	return stats, err
}
