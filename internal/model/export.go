package model

import "time"

// ProgressExport is the top-level JSON structure for the progress report
// produced by `diya export`.
type ProgressExport struct {
	GeneratedAt time.Time         `json:"generated_at"`
	SubjectID   string            `json:"subject_id,omitempty"`
	Students    []StudentProgress `json:"students"`
}

// StudentProgress holds one student's profiles, submissions and weak areas.
type StudentProgress struct {
	ExternalID  string              `json:"external_id"`
	DisplayName string              `json:"display_name"`
	Profiles    []ProfileExport     `json:"profiles"`
	Submissions []SubmissionSummary `json:"submissions"`
	WeakAreas   []WeakAreaExport    `json:"weak_areas,omitempty"`
}

// ProfileExport is an understanding profile with its derived label.
type ProfileExport struct {
	SubjectID       string     `json:"subject_id"`
	Level           int        `json:"level"`
	LevelLabel      string     `json:"level_label"`
	WindowCount     int        `json:"window_count"`
	RollingScore    float64    `json:"rolling_score"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty"`
}

// WeakAreaExport is one weak topic in the report.
type WeakAreaExport struct {
	SubjectID  string    `json:"subject_id"`
	Topic      string    `json:"topic"`
	MissCount  int       `json:"miss_count"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
