package tutor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tamgam/diya/internal/level"
	"github.com/tamgam/diya/internal/llm"
	"github.com/tamgam/diya/internal/model"
	"github.com/tamgam/diya/internal/store"
)

// scriptedRetriever returns a fixed set of chunks and records the scope it
// was asked to search.
type scriptedRetriever struct {
	chunks     []model.RetrievedChunk
	lastScope  []string
	lastQuery  string
}

func (r *scriptedRetriever) Search(_ context.Context, query string, classIDs []string) ([]model.RetrievedChunk, error) {
	r.lastScope = classIDs
	r.lastQuery = query
	if len(classIDs) == 0 {
		return nil, nil
	}
	return r.chunks, nil
}

// echoGenerator replies with a marker and records the prompts it saw.
type echoGenerator struct {
	lastSystem  string
	lastHistory []llm.Message
}

func (g *echoGenerator) Generate(_ context.Context, systemPrompt string, history []llm.Message, userMsg string) (string, error) {
	g.lastSystem = systemPrompt
	g.lastHistory = history
	return "answer to: " + userMsg, nil
}

func testConfig() model.EngineConfig {
	return model.EngineConfig{
		TopK:             5,
		MinSimilarity:    0.4,
		AdvanceThreshold: 0.80,
		RegressThreshold: 0.30,
		WeakAreaStreak:   3,
		HistoryTurns:     6,
	}
}

func newFixture(t *testing.T) (*Service, *store.Store, *scriptedRetriever, *echoGenerator, int64) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	u, err := s.CreateUser("asha", "Asha", "x", model.UserRoleStudent)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddSubscription(u.ID, "math"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertClass(model.Class{ID: "class-1", SubjectID: "math", Title: "Fractions"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertClass(model.Class{ID: "class-2", SubjectID: "math", Title: "Decimals"}); err != nil {
		t.Fatal(err)
	}

	retr := &scriptedRetriever{chunks: []model.RetrievedChunk{
		{Chunk: model.TranscriptChunk{ID: 11, ClassID: "class-1", Text: "a fraction has a numerator and denominator."}, Score: 0.9},
	}}
	gen := &echoGenerator{}
	cfg := testConfig()
	svc := New(s, retr, gen, level.NewEngine(s, cfg), cfg)
	return svc, s, retr, gen, u.ID
}

func TestAskGroundedTurn(t *testing.T) {
	svc, s, _, gen, studentID := newFixture(t)

	ans, err := svc.Ask(context.Background(), AskRequest{
		StudentID: studentID,
		SubjectID: "math",
		Query:     "what is a numerator?",
	})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !ans.Turn.Grounded {
		t.Error("turn should be grounded")
	}
	if len(ans.Turn.RetrievedChunkIDs) != 1 || ans.Turn.RetrievedChunkIDs[0] != 11 {
		t.Errorf("cited chunks = %v", ans.Turn.RetrievedChunkIDs)
	}
	if !strings.Contains(gen.lastSystem, "numerator and denominator") {
		t.Error("retrieved material missing from the system prompt")
	}
	if ans.Level != 3 {
		t.Errorf("new student level = %d, want 3", ans.Level)
	}

	turns, err := s.ListTurns(ans.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 || !turns[0].Grounded {
		t.Errorf("stored turns: %+v", turns)
	}
}

func TestAskUngroundedTurnFlagsAndTracks(t *testing.T) {
	svc, s, retr, gen, studentID := newFixture(t)
	retr.chunks = nil // nothing clears the floor

	ans, err := svc.Ask(context.Background(), AskRequest{
		StudentID: studentID,
		SubjectID: "math",
		ClassID:   "class-1",
		Query:     "what is quantum entanglement?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if ans.Turn.Grounded {
		t.Error("turn must be flagged non-grounded")
	}
	if len(ans.Turn.RetrievedChunkIDs) != 0 {
		t.Errorf("non-grounded turn cites chunks: %v", ans.Turn.RetrievedChunkIDs)
	}
	if !strings.Contains(gen.lastSystem, "No class material matched") {
		t.Error("ungrounded system prompt not used")
	}

	// The class topic is now tracked as weak.
	areas, err := s.ListWeakAreas(studentID, "math")
	if err != nil {
		t.Fatal(err)
	}
	if len(areas) != 1 || areas[0].Topic != "Fractions" {
		t.Errorf("weak areas: %+v", areas)
	}
}

func TestAskScopesToEntitledClasses(t *testing.T) {
	svc, _, retr, _, studentID := newFixture(t)

	// Subject-wide question searches every entitled class.
	if _, err := svc.Ask(context.Background(), AskRequest{
		StudentID: studentID, SubjectID: "math", Query: "q",
	}); err != nil {
		t.Fatal(err)
	}
	if len(retr.lastScope) != 2 {
		t.Errorf("subject scope = %v, want both math classes", retr.lastScope)
	}

	// Class-scoped question narrows to that class.
	if _, err := svc.Ask(context.Background(), AskRequest{
		StudentID: studentID, ClassID: "class-2", Query: "q",
	}); err != nil {
		t.Fatal(err)
	}
	if len(retr.lastScope) != 1 || retr.lastScope[0] != "class-2" {
		t.Errorf("class scope = %v", retr.lastScope)
	}
}

func TestAskWithoutSubscription(t *testing.T) {
	svc, s, _, _, studentID := newFixture(t)
	if err := s.UpsertClass(model.Class{ID: "sci-1", SubjectID: "science"}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Ask(context.Background(), AskRequest{
		StudentID: studentID, SubjectID: "science", Query: "q",
	})
	if !errors.Is(err, ErrNoEntitlement) {
		t.Fatalf("got %v, want ErrNoEntitlement", err)
	}
}

func TestAskLapsedSubscriptionCutsOff(t *testing.T) {
	svc, s, _, _, studentID := newFixture(t)

	ans, err := svc.Ask(context.Background(), AskRequest{
		StudentID: studentID, SubjectID: "math", Query: "q",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SetSubscriptionStatus(studentID, "math", "expired"); err != nil {
		t.Fatal(err)
	}
	_, err = svc.Ask(context.Background(), AskRequest{
		StudentID: studentID, SessionID: ans.SessionID, Query: "follow-up",
	})
	if !errors.Is(err, ErrNoEntitlement) {
		t.Fatalf("got %v, want ErrNoEntitlement mid-session", err)
	}
}

func TestAskSessionOwnership(t *testing.T) {
	svc, s, _, _, studentID := newFixture(t)

	ans, err := svc.Ask(context.Background(), AskRequest{
		StudentID: studentID, SubjectID: "math", Query: "q",
	})
	if err != nil {
		t.Fatal(err)
	}

	other, err := s.CreateUser("ravi", "Ravi", "x", model.UserRoleStudent)
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.Ask(context.Background(), AskRequest{
		StudentID: other.ID, SessionID: ans.SessionID, Query: "q",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("got %v, want ErrForbidden", err)
	}

	_, err = svc.Ask(context.Background(), AskRequest{
		StudentID: studentID, SessionID: "no-such-session", Query: "q",
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}
}

func TestAskCarriesHistoryWindow(t *testing.T) {
	svc, _, _, gen, studentID := newFixture(t)

	var sessionID string
	for i := 0; i < 8; i++ {
		req := AskRequest{StudentID: studentID, SubjectID: "math", Query: "question", SessionID: sessionID}
		ans, err := svc.Ask(context.Background(), req)
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		sessionID = ans.SessionID
	}
	// 7 prior turns, but the window keeps only the last 6 as user/assistant
	// pairs.
	if len(gen.lastHistory) != 12 {
		t.Errorf("history length = %d messages, want 12", len(gen.lastHistory))
	}
	if gen.lastHistory[0].Role != llm.RoleUser || gen.lastHistory[1].Role != llm.RoleAssistant {
		t.Error("history must alternate user/assistant")
	}
}

func TestAskStartingSessionFromClass(t *testing.T) {
	svc, s, _, _, studentID := newFixture(t)

	ans, err := svc.Ask(context.Background(), AskRequest{
		StudentID: studentID, ClassID: "class-1", Query: "q",
	})
	if err != nil {
		t.Fatal(err)
	}
	sess, err := s.GetTutorSession(ans.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if sess.SubjectID != "math" || sess.ClassID != "class-1" {
		t.Errorf("session = %+v", sess)
	}
}
