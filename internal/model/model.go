package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Subscription grants a student access to the classes of a subject.
type Subscription struct {
	ID        int64
	StudentID int64
	SubjectID string
	Status    string // active | expired | cancelled
	CreatedAt time.Time
}

// Class is a taught class whose transcript can be indexed.
type Class struct {
	ID        string
	SubjectID string
	Title     string
	IndexedAt *time.Time // set when the transcript was last indexed
	CreatedAt time.Time
}

// TranscriptChunk is one embedded slice of a class transcript.
// Chunks are immutable once created; a re-index replaces the whole set.
type TranscriptChunk struct {
	ID        int64
	ClassID   string
	SubjectID string
	Ordinal   int // position within the transcript
	Text      string
	TokenCnt  int
	Embedding []float32 // nil when the embedding backend permanently failed
	CreatedAt time.Time
}

// Embedded reports whether the chunk is usable for retrieval.
func (c TranscriptChunk) Embedded() bool {
	return len(c.Embedding) > 0
}

// RetrievedChunk pairs a chunk with its similarity score for a query.
type RetrievedChunk struct {
	Chunk TranscriptChunk
	Score float64 // cosine similarity, higher is more relevant
}

// EmbeddingStats reports per-class indexing coverage.
type EmbeddingStats struct {
	ClassID        string `json:"class_id"`
	TotalChunks    int    `json:"total_chunks"`
	EmbeddedChunks int    `json:"embedded_chunks"`
	FailedChunks   int    `json:"failed_chunks"`
}

// CoveragePct is the share of chunks that carry an embedding.
func (s EmbeddingStats) CoveragePct() float64 {
	if s.TotalChunks == 0 {
		return 0
	}
	return float64(s.EmbeddedChunks) / float64(s.TotalChunks) * 100
}

// Ready reports whether every stored chunk is retrievable.
func (s EmbeddingStats) Ready() bool {
	return s.TotalChunks > 0 && s.FailedChunks == 0
}

// Level bounds for understanding profiles.
const (
	MinLevel = 1
	MaxLevel = 5
)

// EvaluationWindow is the number of submissions after which the mastery
// level is reconsidered.
const EvaluationWindow = 3

// UnderstandingProfile tracks a student's mastery level for one subject.
// Mutated only by the level engine.
type UnderstandingProfile struct {
	StudentID       int64
	SubjectID       string
	Level           int // 1..5
	WindowCount     int // submissions since the last evaluation
	RollingScore    float64
	Version         int64 // optimistic concurrency token
	LastEvaluatedAt *time.Time
}

// LevelLabel maps a numeric level to its display label. Computed per read,
// never stored.
func LevelLabel(level int) string {
	switch level {
	case 1:
		return "beginner"
	case 2:
		return "developing"
	case 3:
		return "proficient"
	case 4:
		return "advanced"
	case 5:
		return "expert"
	}
	return "proficient"
}

// WeakArea tracks a topic a student keeps missing.
type WeakArea struct {
	StudentID  int64
	SubjectID  string
	Topic      string
	MissCount  int
	HitStreak  int // consecutive confident/correct interactions
	LastSeenAt time.Time
}

// DifficultyTier places an assessment item relative to the student's level.
type DifficultyTier string

const (
	TierBelow DifficultyTier = "below"
	TierAt    DifficultyTier = "at"
	TierAbove DifficultyTier = "above"
)

// TierPoints is the scoring weight of each tier. Items within a tier weigh
// the same.
var TierPoints = map[DifficultyTier]int{
	TierBelow: 2,
	TierAt:    3,
	TierAbove: 4,
}

// AssessmentItem is one generated question. Immutable after issuance.
type AssessmentItem struct {
	ID             int64          `json:"id"`
	ClassID        string         `json:"class_id"`
	Tier           DifficultyTier `json:"tier"`
	Topic          string         `json:"topic"`
	QuestionText   string         `json:"question"`
	Options        []string       `json:"options,omitempty"`
	CorrectAnswer  string         `json:"-"`
	Explanation    string         `json:"-"`
	SourceChunkIDs []int64        `json:"source_chunk_ids"`
}

// ItemAnswer is one answered item in a submission.
type ItemAnswer struct {
	ItemID int64  `json:"item_id"`
	Answer string `json:"answer"`
}

// ItemResult is the per-item outcome of scoring.
type ItemResult struct {
	ItemID        int64          `json:"item_id"`
	Tier          DifficultyTier `json:"tier"`
	Topic         string         `json:"topic"`
	YourAnswer    string         `json:"your_answer"`
	CorrectAnswer string         `json:"correct_answer"`
	Correct       bool           `json:"correct"`
	Explanation   string         `json:"explanation,omitempty"`
}

// AssessmentSubmission records one student's scored attempt. One per
// (student, class).
type AssessmentSubmission struct {
	ID          string // uuid
	StudentID   int64
	ClassID     string
	SubjectID   string
	RawScore    float64 // earned/max, in [0,1]
	Results     []ItemResult
	SubmittedAt time.Time
}

// TurnRole is the speaker of a tutor turn message.
type TurnRole string

const (
	TurnRoleStudent TurnRole = "student"
	TurnRoleTutor   TurnRole = "tutor"
)

// TutorSession is one student's conversation with the tutor, optionally
// scoped to a class.
type TutorSession struct {
	ID        string // uuid
	StudentID int64
	ClassID   string // empty when subject-wide
	SubjectID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TutorTurn is one question/answer exchange in a session. Grounded is false
// when the answer was produced without retrieved class content; such turns
// carry an explicit notice and no cited chunks.
type TutorTurn struct {
	ID                int64
	SessionID         string
	TurnIndex         int
	QueryText         string
	ResponseText      string
	Grounded          bool
	RetrievedChunkIDs []int64
	CreatedAt         time.Time
}

// EngineConfig holds runtime engine parameters set via CLI flags.
type EngineConfig struct {
	TopK             int     // retrieved chunks per query
	MinSimilarity    float64 // confidence floor τ
	ChunkSize        int     // target words per chunk
	ChunkOverlap     int     // overlap words between consecutive chunks
	AdvanceThreshold float64 // rolling score at or above which level += 1
	RegressThreshold float64 // rolling score below which level -= 1
	AssessmentSize   int     // items per assessment, 8..10
	WeakAreaStreak   int     // confident interactions before a weak area resets
	HistoryTurns     int     // prior turns included in the prompt
	SecureCookies    bool
}

// SessionSummary is a tutor session list entry.
type SessionSummary struct {
	ID            string    `json:"id"`
	ClassID       string    `json:"class_id,omitempty"`
	SubjectID     string    `json:"subject_id"`
	TurnCount     int       `json:"turn_count"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// SubmissionSummary is an assessment history entry.
type SubmissionSummary struct {
	ID           string    `json:"id"`
	ClassID      string    `json:"class_id"`
	SubjectID    string    `json:"subject_id"`
	RawScore     float64   `json:"raw_score"`
	CorrectCount int       `json:"correct_count"`
	TotalItems   int       `json:"total_items"`
	SubmittedAt  time.Time `json:"submitted_at"`
}
