package store

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tamgam/diya/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedClass(t *testing.T, s *Store, id, subject string) {
	t.Helper()
	if err := s.UpsertClass(model.Class{ID: id, SubjectID: subject, Title: id}); err != nil {
		t.Fatalf("seed class %s: %v", id, err)
	}
}

func seedStudent(t *testing.T, s *Store, username string) *model.User {
	t.Helper()
	u, err := s.CreateUser(username, username, "x", model.UserRoleStudent)
	if err != nil {
		t.Fatalf("seed student %s: %v", username, err)
	}
	return u
}

func TestVectorRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
	}{
		{"nil", nil},
		{"empty", []float32{}},
		{"single", []float32{0.5}},
		{"typical", []float32{0.1, -0.2, 0.3, 0.0, 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeVector(encodeVector(tt.vec))
			if len(tt.vec) == 0 {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if len(got) != len(tt.vec) {
				t.Fatalf("length mismatch: got %d want %d", len(got), len(tt.vec))
			}
			for i := range got {
				if got[i] != tt.vec[i] {
					t.Errorf("element %d: got %v want %v", i, got[i], tt.vec[i])
				}
			}
		})
	}
}

func TestReplaceChunksIsAtomicAndIdempotent(t *testing.T) {
	s := newTestStore(t)
	seedClass(t, s, "class-1", "math")

	first := []model.TranscriptChunk{
		{SubjectID: "math", Ordinal: 0, Text: "alpha", Embedding: []float32{1, 0}},
		{SubjectID: "math", Ordinal: 1, Text: "beta"},
	}
	ids, err := s.ReplaceChunks("class-1", first)
	if err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 inserted ids, got %d", len(ids))
	}

	second := []model.TranscriptChunk{
		{SubjectID: "math", Ordinal: 0, Text: "gamma", Embedding: []float32{0, 1}},
	}
	if _, err := s.ReplaceChunks("class-1", second); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	chunks, err := s.ListChunksByClass("class-1")
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected old chunks replaced, got %d rows", len(chunks))
	}
	if chunks[0].Text != "gamma" {
		t.Errorf("expected new chunk text, got %q", chunks[0].Text)
	}

	c, err := s.GetClass("class-1")
	if err != nil {
		t.Fatalf("get class: %v", err)
	}
	if c.IndexedAt == nil {
		t.Error("expected indexed_at to be stamped")
	}
}

func TestListEmbeddedChunksExcludesUnembedded(t *testing.T) {
	s := newTestStore(t)
	seedClass(t, s, "class-1", "math")
	seedClass(t, s, "class-2", "math")

	if _, err := s.ReplaceChunks("class-1", []model.TranscriptChunk{
		{SubjectID: "math", Ordinal: 0, Text: "embedded", Embedding: []float32{1, 0}},
		{SubjectID: "math", Ordinal: 1, Text: "failed"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReplaceChunks("class-2", []model.TranscriptChunk{
		{SubjectID: "math", Ordinal: 0, Text: "other", Embedding: []float32{0, 1}},
	}); err != nil {
		t.Fatal(err)
	}

	chunks, indexedAt, err := s.ListEmbeddedChunks([]string{"class-1"})
	if err != nil {
		t.Fatalf("list embedded: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected only the embedded chunk of class-1, got %d", len(chunks))
	}
	if chunks[0].Text != "embedded" {
		t.Errorf("got chunk %q", chunks[0].Text)
	}
	if _, ok := indexedAt["class-1"]; !ok {
		t.Error("expected indexed_at entry for class-1")
	}

	none, _, err := s.ListEmbeddedChunks(nil)
	if err != nil {
		t.Fatalf("empty scope: %v", err)
	}
	if none != nil {
		t.Errorf("expected no chunks for empty scope, got %d", len(none))
	}
}

func TestEmbeddingStats(t *testing.T) {
	s := newTestStore(t)
	seedClass(t, s, "class-1", "math")
	if _, err := s.ReplaceChunks("class-1", []model.TranscriptChunk{
		{SubjectID: "math", Ordinal: 0, Text: "a", Embedding: []float32{1}},
		{SubjectID: "math", Ordinal: 1, Text: "b", Embedding: []float32{1}},
		{SubjectID: "math", Ordinal: 2, Text: "c"},
	}); err != nil {
		t.Fatal(err)
	}

	stats, err := s.EmbeddingStats("class-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalChunks != 3 || stats.EmbeddedChunks != 2 || stats.FailedChunks != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Ready() {
		t.Error("class with failed chunks must not report ready")
	}
	if pct := stats.CoveragePct(); pct < 66.0 || pct > 67.0 {
		t.Errorf("coverage pct = %v", pct)
	}
}

func TestProfileDefaultsAndOptimisticUpdate(t *testing.T) {
	s := newTestStore(t)
	stu := seedStudent(t, s, "asha")

	p, err := s.GetOrCreateProfile(stu.ID, "math")
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if p.Level != 3 {
		t.Errorf("new profile level = %d, want 3", p.Level)
	}
	if p.WindowCount != 0 || p.Version != 0 {
		t.Errorf("unexpected profile defaults: %+v", p)
	}

	p.Level = 4
	p.WindowCount = 0
	now := time.Now()
	p.LastEvaluatedAt = &now
	if err := s.UpdateProfile(*p); err != nil {
		t.Fatalf("update: %v", err)
	}

	// A stale writer still holding version 0 must lose the race.
	stale := *p
	stale.Level = 2
	if err := s.UpdateProfile(stale); !errors.Is(err, ErrProfileConflict) {
		t.Fatalf("stale update: got %v, want ErrProfileConflict", err)
	}

	fresh, err := s.GetProfile(stu.ID, "math")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Level != 4 || fresh.Version != 1 {
		t.Errorf("after update: level=%d version=%d", fresh.Level, fresh.Version)
	}
}

func TestWeakAreaLifecycle(t *testing.T) {
	s := newTestStore(t)
	stu := seedStudent(t, s, "ravi")

	for i := 0; i < 2; i++ {
		if err := s.RecordMiss(stu.ID, "math", "fractions"); err != nil {
			t.Fatalf("miss %d: %v", i, err)
		}
	}
	areas, err := s.ListWeakAreas(stu.ID, "math")
	if err != nil {
		t.Fatal(err)
	}
	if len(areas) != 1 || areas[0].MissCount != 2 {
		t.Fatalf("after misses: %+v", areas)
	}

	// Two hits keep the row, the third clears it.
	for i := 0; i < 2; i++ {
		if err := s.RecordHit(stu.ID, "math", "fractions", 3); err != nil {
			t.Fatalf("hit %d: %v", i, err)
		}
	}
	areas, _ = s.ListWeakAreas(stu.ID, "math")
	if len(areas) != 1 || areas[0].HitStreak != 2 {
		t.Fatalf("after two hits: %+v", areas)
	}

	if err := s.RecordHit(stu.ID, "math", "fractions", 3); err != nil {
		t.Fatal(err)
	}
	areas, _ = s.ListWeakAreas(stu.ID, "math")
	if len(areas) != 0 {
		t.Errorf("expected weak area cleared after streak, got %+v", areas)
	}

	// A miss in between resets the streak.
	if err := s.RecordMiss(stu.ID, "math", "decimals"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordHit(stu.ID, "math", "decimals", 3); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordMiss(stu.ID, "math", "decimals"); err != nil {
		t.Fatal(err)
	}
	areas, _ = s.ListWeakAreas(stu.ID, "math")
	if len(areas) != 1 || areas[0].HitStreak != 0 || areas[0].MissCount != 2 {
		t.Errorf("streak not reset by miss: %+v", areas)
	}
}

func TestAssessmentItemsIssueOnce(t *testing.T) {
	s := newTestStore(t)
	seedClass(t, s, "class-1", "math")

	items := []model.AssessmentItem{
		{Tier: model.TierBelow, Topic: "fractions", QuestionText: "q1", Options: []string{"a", "b"}, CorrectAnswer: "a", SourceChunkIDs: []int64{1}},
		{Tier: model.TierAt, Topic: "decimals", QuestionText: "q2", Options: []string{"a", "b"}, CorrectAnswer: "b", SourceChunkIDs: []int64{2, 3}},
	}
	issued, err := s.InsertItems("class-1", items)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(issued) != 2 || issued[0].ID == 0 {
		t.Fatalf("unexpected issued items: %+v", issued)
	}

	if _, err := s.InsertItems("class-1", items); !errors.Is(err, ErrAlreadyIssued) {
		t.Fatalf("reissue: got %v, want ErrAlreadyIssued", err)
	}

	got, err := s.ItemsForClass("class-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[1].Tier != model.TierAt || len(got[1].SourceChunkIDs) != 2 {
		t.Errorf("round trip lost fields: %+v", got[1])
	}
}

func TestSubmissionOncePerStudentAndClass(t *testing.T) {
	s := newTestStore(t)
	seedClass(t, s, "class-1", "math")
	stu := seedStudent(t, s, "asha")

	sub := model.AssessmentSubmission{
		ID:        uuid.NewString(),
		StudentID: stu.ID,
		ClassID:   "class-1",
		SubjectID: "math",
		RawScore:  0.75,
		Results: []model.ItemResult{
			{ItemID: 1, Tier: model.TierAt, Correct: true},
			{ItemID: 2, Tier: model.TierAbove, Correct: false},
		},
		SubmittedAt: time.Now(),
	}
	if err := s.InsertSubmission(sub); err != nil {
		t.Fatalf("insert: %v", err)
	}

	dup := sub
	dup.ID = uuid.NewString()
	if err := s.InsertSubmission(dup); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("duplicate: got %v, want ErrAlreadySubmitted", err)
	}

	got, err := s.GetSubmission(stu.ID, "class-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.RawScore != 0.75 || len(got.Results) != 2 {
		t.Fatalf("round trip: %+v", got)
	}

	summaries, err := s.ListSubmissionsByStudent(stu.ID, "math")
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 || summaries[0].CorrectCount != 1 || summaries[0].TotalItems != 2 {
		t.Errorf("summary: %+v", summaries)
	}
}

func TestListRecentScoresOrder(t *testing.T) {
	s := newTestStore(t)
	stu := seedStudent(t, s, "asha")

	base := time.Now().Add(-time.Hour)
	for i, score := range []float64{0.2, 0.5, 0.9, 0.7} {
		classID := "class-" + string(rune('a'+i))
		seedClass(t, s, classID, "math")
		sub := model.AssessmentSubmission{
			ID:          uuid.NewString(),
			StudentID:   stu.ID,
			ClassID:     classID,
			SubjectID:   "math",
			RawScore:    score,
			SubmittedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.InsertSubmission(sub); err != nil {
			t.Fatal(err)
		}
	}

	scores, err := s.ListRecentScores(stu.ID, "math", 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0.5, 0.9, 0.7}
	if len(scores) != len(want) {
		t.Fatalf("got %v, want %v", scores, want)
	}
	for i := range want {
		if scores[i] != want[i] {
			t.Errorf("scores[%d] = %v, want %v", i, scores[i], want[i])
		}
	}
}

func TestTutorSessionTurns(t *testing.T) {
	s := newTestStore(t)
	stu := seedStudent(t, s, "asha")

	sess := model.TutorSession{
		ID:        uuid.NewString(),
		StudentID: stu.ID,
		SubjectID: "math",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.CreateTutorSession(sess); err != nil {
		t.Fatalf("create session: %v", err)
	}

	for i, grounded := range []bool{true, false, true} {
		turn, err := s.AddTurn(model.TutorTurn{
			SessionID:         sess.ID,
			QueryText:         "question",
			ResponseText:      "answer",
			Grounded:          grounded,
			RetrievedChunkIDs: []int64{int64(i)},
		})
		if err != nil {
			t.Fatalf("add turn %d: %v", i, err)
		}
		if turn.TurnIndex != i {
			t.Errorf("turn %d got index %d", i, turn.TurnIndex)
		}
	}

	turns, err := s.ListTurns(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[1].Grounded {
		t.Error("turn 1 should be non-grounded")
	}

	recent, err := s.RecentTurns(sess.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].TurnIndex != 1 {
		t.Errorf("recent turns: %+v", recent)
	}

	summaries, err := s.ListTutorSessions(stu.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 || summaries[0].TurnCount != 3 {
		t.Errorf("session summary: %+v", summaries)
	}
}

func TestEntitlementScoping(t *testing.T) {
	s := newTestStore(t)
	stu := seedStudent(t, s, "asha")
	seedClass(t, s, "math-1", "math")
	seedClass(t, s, "math-2", "math")
	seedClass(t, s, "sci-1", "science")

	ids, err := s.EntitledClassIDs(stu.ID, "math")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("no subscription must yield no classes, got %v", ids)
	}

	if err := s.AddSubscription(stu.ID, "math"); err != nil {
		t.Fatal(err)
	}
	ids, err = s.EntitledClassIDs(stu.ID, "math")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected both math classes, got %v", ids)
	}

	if err := s.SetSubscriptionStatus(stu.ID, "math", "expired"); err != nil {
		t.Fatal(err)
	}
	ids, _ = s.EntitledClassIDs(stu.ID, "math")
	if len(ids) != 0 {
		t.Errorf("expired subscription must yield no classes, got %v", ids)
	}
}

func TestAuthSessionExpiry(t *testing.T) {
	s := newTestStore(t)
	u := seedStudent(t, s, "asha")

	sess, err := s.CreateAuthSession(u.ID)
	if err != nil {
		t.Fatalf("create auth session: %v", err)
	}
	got, err := s.GetAuthSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.UserID != u.ID {
		t.Fatalf("lookup: %+v", got)
	}

	// Force the session into the past.
	if _, err := s.db.Exec(
		`UPDATE auth_sessions SET expires_at = ? WHERE id = ?`,
		time.Now().Add(-time.Minute), sess.ID,
	); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetAuthSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expired session must not resolve")
	}
}

func TestExportProgress(t *testing.T) {
	s := newTestStore(t)
	stu := seedStudent(t, s, "asha")
	seedClass(t, s, "class-1", "math")

	p, err := s.GetOrCreateProfile(stu.ID, "math")
	if err != nil {
		t.Fatal(err)
	}
	p.Level = 4
	if err := s.UpdateProfile(*p); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertSubmission(model.AssessmentSubmission{
		ID: uuid.NewString(), StudentID: stu.ID, ClassID: "class-1",
		SubjectID: "math", RawScore: 0.8, SubmittedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordMiss(stu.ID, "math", "fractions"); err != nil {
		t.Fatal(err)
	}

	export, err := s.ExportProgress("math")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(export.Students) != 1 {
		t.Fatalf("expected one student, got %d", len(export.Students))
	}
	got := export.Students[0]
	if len(got.Profiles) != 1 || got.Profiles[0].LevelLabel != "advanced" {
		t.Errorf("profiles: %+v", got.Profiles)
	}
	if len(got.Submissions) != 1 || len(got.WeakAreas) != 1 {
		t.Errorf("submissions=%d weak=%d", len(got.Submissions), len(got.WeakAreas))
	}

	// Scoping to another subject drops the student entirely.
	other, err := s.ExportProgress("science")
	if err != nil {
		t.Fatal(err)
	}
	if len(other.Students) != 0 {
		t.Errorf("expected empty export for other subject, got %d", len(other.Students))
	}
}
