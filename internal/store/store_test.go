package store

import (
	"reflect"
	"testing"

	"github.com/TheInternetGod/note2exam/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleProgress() model.SessionProgress {
	return model.SessionProgress{
		ExamTitle:            "Biology Basics",
		CurrentQuestionIndex: 3,
		Answers:              map[int]int{1: 2, 4: 0},
		Flagged:              []int{2},
		Visited:              []int{1, 2, 3, 4},
		TimeLeftSeconds:      1200,
	}
}

func TestProgressRoundTrip(t *testing.T) {
	s := newTestStore(t)

	// Empty store reports no progress.
	p, err := s.LoadProgress()
	if err != nil {
		t.Fatalf("LoadProgress: %v", err)
	}
	if p != nil {
		t.Fatal("expected nil progress on empty store")
	}

	in := sampleProgress()
	if err := s.SaveProgress(in); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	out, err := s.LoadProgress()
	if err != nil {
		t.Fatalf("LoadProgress: %v", err)
	}
	if out == nil {
		t.Fatal("expected progress, got nil")
	}
	if out.Version != model.ProgressVersion {
		t.Errorf("expected version %d, got %d", model.ProgressVersion, out.Version)
	}
	if out.ExamTitle != in.ExamTitle || out.CurrentQuestionIndex != in.CurrentQuestionIndex {
		t.Errorf("round trip mismatch: %+v", out)
	}
	if !reflect.DeepEqual(out.Answers, in.Answers) {
		t.Errorf("answers mismatch: %v != %v", out.Answers, in.Answers)
	}
	if !reflect.DeepEqual(out.Flagged, in.Flagged) || !reflect.DeepEqual(out.Visited, in.Visited) {
		t.Errorf("flag/visited mismatch: %+v", out)
	}
	if out.TimeLeftSeconds != 1200 {
		t.Errorf("expected timeLeft 1200, got %d", out.TimeLeftSeconds)
	}
}

func TestProgressOverwrite(t *testing.T) {
	s := newTestStore(t)

	first := sampleProgress()
	if err := s.SaveProgress(first); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	second := sampleProgress()
	second.ExamTitle = "Chemistry"
	second.CurrentQuestionIndex = 0
	if err := s.SaveProgress(second); err != nil {
		t.Fatalf("SaveProgress overwrite: %v", err)
	}

	out, _ := s.LoadProgress()
	if out.ExamTitle != "Chemistry" {
		t.Errorf("expected last write to win, got %q", out.ExamTitle)
	}
}

func TestClearProgress(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveProgress(sampleProgress()); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	if err := s.ClearProgress(); err != nil {
		t.Fatalf("ClearProgress: %v", err)
	}
	p, err := s.LoadProgress()
	if err != nil {
		t.Fatalf("LoadProgress: %v", err)
	}
	if p != nil {
		t.Error("expected nil progress after clear")
	}

	// Clearing an already-empty key is fine.
	if err := s.ClearProgress(); err != nil {
		t.Errorf("ClearProgress on empty: %v", err)
	}
}

func TestMalformedProgressDiscarded(t *testing.T) {
	s := newTestStore(t)

	if err := s.set("note2exam_exam_progress", "{this is not json"); err != nil {
		t.Fatalf("set: %v", err)
	}

	p, err := s.LoadProgress()
	if err != nil {
		t.Fatalf("LoadProgress should not fail on junk: %v", err)
	}
	if p != nil {
		t.Error("expected junk record to be discarded")
	}

	// The junk record is gone for good.
	raw, _ := s.get("note2exam_exam_progress")
	if raw != "" {
		t.Error("expected junk record to be cleared")
	}
}

func TestVersionMismatchDiscarded(t *testing.T) {
	s := newTestStore(t)

	if err := s.set("note2exam_exam_progress", `{"version": 99, "examTitle": "Old"}`); err != nil {
		t.Fatalf("set: %v", err)
	}

	p, err := s.LoadProgress()
	if err != nil {
		t.Fatalf("LoadProgress: %v", err)
	}
	if p != nil {
		t.Error("expected version-mismatched record to be discarded")
	}
}

func TestAppStateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	st, err := s.LoadAppState()
	if err != nil {
		t.Fatalf("LoadAppState: %v", err)
	}
	if st != nil {
		t.Fatal("expected nil app state on empty store")
	}

	exam := &model.GeneratedExam{
		Title: "Physics",
		Questions: []model.Question{
			{ID: 1, Text: "Q1", Options: []string{"a", "b", "c", "d"}, CorrectAnswerIndex: 2, Explanation: "e", Topic: "t"},
		},
		Config: model.ExamConfig{Difficulty: model.DifficultyEasy, DurationMinutes: 10, QuestionCount: 1, CandidateName: "Ada"},
	}
	in := model.AppState{CurrentView: model.ViewExam, GeneratedExam: exam}
	if err := s.SaveAppState(in); err != nil {
		t.Fatalf("SaveAppState: %v", err)
	}

	out, err := s.LoadAppState()
	if err != nil {
		t.Fatalf("LoadAppState: %v", err)
	}
	if out == nil || out.CurrentView != model.ViewExam {
		t.Fatalf("unexpected app state: %+v", out)
	}
	if out.GeneratedExam == nil || out.GeneratedExam.Title != "Physics" {
		t.Errorf("exam not restored: %+v", out.GeneratedExam)
	}
	if out.ExamResult != nil {
		t.Error("expected nil result")
	}

	if err := s.ClearAppState(); err != nil {
		t.Fatalf("ClearAppState: %v", err)
	}
	out, _ = s.LoadAppState()
	if out != nil {
		t.Error("expected nil app state after clear")
	}
}

func TestMalformedAppStateDiscarded(t *testing.T) {
	s := newTestStore(t)

	if err := s.set("note2exam_app_state", "junk"); err != nil {
		t.Fatalf("set: %v", err)
	}
	st, err := s.LoadAppState()
	if err != nil {
		t.Fatalf("LoadAppState: %v", err)
	}
	if st != nil {
		t.Error("expected junk app state to be discarded")
	}
}

func TestUserKeys(t *testing.T) {
	s := newTestStore(t)

	raw, err := s.UserKeys()
	if err != nil {
		t.Fatalf("UserKeys: %v", err)
	}
	if raw != "" {
		t.Errorf("expected empty keys, got %q", raw)
	}

	if err := s.SaveUserKeys("AIzaOne, AIzaTwo"); err != nil {
		t.Fatalf("SaveUserKeys: %v", err)
	}
	raw, _ = s.UserKeys()
	if raw != "AIzaOne, AIzaTwo" {
		t.Errorf("expected raw string preserved, got %q", raw)
	}

	if err := s.ClearUserKeys(); err != nil {
		t.Fatalf("ClearUserKeys: %v", err)
	}
	raw, _ = s.UserKeys()
	if raw != "" {
		t.Errorf("expected empty keys after clear, got %q", raw)
	}
}
