package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/TheInternetGod/note2exam/internal/model"
)

type attempt struct {
	model      string
	credential string
}

func testConfig() model.ExamConfig {
	return model.ExamConfig{
		Difficulty:      model.DifficultyMedium,
		DurationMinutes: 30,
		QuestionCount:   2,
		CandidateName:   "Ada",
	}
}

const validResponse = `{
	"title": "Sample Exam",
	"questions": [
		{"id": 42, "text": "Q1", "options": ["a","b","c","d"], "correctAnswerIndex": 0, "explanation": "e1", "topic": "t1"},
		{"id": 7, "text": "Q2", "options": ["a","b","c","d"], "correctAnswerIndex": 3, "explanation": "e2", "topic": "t2"}
	]
}`

// fakeDispatcher returns a dispatcher whose invoke function records
// every attempt and delegates the outcome to fn.
func fakeDispatcher(models []string, log *[]attempt, fn func(a attempt) (string, error)) *Dispatcher {
	return &Dispatcher{
		models: models,
		invoke: func(_ context.Context, credential, modelName, _ string, _ []Media) (string, error) {
			a := attempt{model: modelName, credential: credential}
			*log = append(*log, a)
			return fn(a)
		},
	}
}

func TestGenerateNoCredentials(t *testing.T) {
	var log []attempt
	d := fakeDispatcher([]string{"m1"}, &log, func(attempt) (string, error) {
		return validResponse, nil
	})

	_, err := d.Generate(context.Background(), Content{Text: "notes"}, testConfig(), "", " , ,")
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
	if len(log) != 0 {
		t.Errorf("expected 0 attempts, got %d", len(log))
	}
}

func TestGenerateFirstAttemptSucceeds(t *testing.T) {
	var log []attempt
	d := fakeDispatcher([]string{"m1", "m2"}, &log, func(attempt) (string, error) {
		return validResponse, nil
	})

	exam, err := d.Generate(context.Background(), Content{Text: "notes"}, testConfig(), "key-a,key-b", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", len(log))
	}
	if log[0] != (attempt{model: "m1", credential: "key-a"}) {
		t.Errorf("unexpected first attempt: %+v", log[0])
	}
	if exam.Title != "Sample Exam" {
		t.Errorf("expected title 'Sample Exam', got %q", exam.Title)
	}
}

func TestGenerateResequencesQuestionIDs(t *testing.T) {
	var log []attempt
	d := fakeDispatcher([]string{"m1"}, &log, func(attempt) (string, error) {
		return validResponse, nil
	})

	exam, err := d.Generate(context.Background(), Content{Text: "notes"}, testConfig(), "key-a", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// Raw response carried ids 42 and 7; they must come back as 1..N.
	for i, q := range exam.Questions {
		if q.ID != i+1 {
			t.Errorf("question %d: expected id %d, got %d", i, i+1, q.ID)
		}
	}
}

func TestGenerateRotatesCredentialsBeforeModels(t *testing.T) {
	var log []attempt
	d := fakeDispatcher([]string{"m1", "m2"}, &log, func(a attempt) (string, error) {
		// First model fails on the first credential, succeeds on the second.
		if a.model == "m1" && a.credential == "key-a" {
			return "", errors.New("quota exhausted")
		}
		return validResponse, nil
	})

	_, err := d.Generate(context.Background(), Content{Text: "notes"}, testConfig(), "key-a,key-b", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []attempt{
		{model: "m1", credential: "key-a"},
		{model: "m1", credential: "key-b"},
	}
	if len(log) != len(want) {
		t.Fatalf("expected %d attempts, got %d: %+v", len(want), len(log), log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("attempt %d: expected %+v, got %+v", i, want[i], log[i])
		}
	}
}

func TestGenerateExhaustsAllPairs(t *testing.T) {
	var log []attempt
	d := fakeDispatcher([]string{"m1", "m2", "m3"}, &log, func(attempt) (string, error) {
		return "", errors.New("error 429: rate limit")
	})

	_, err := d.Generate(context.Background(), Content{Text: "notes"}, testConfig(), "key-a,key-b", "")

	var ex *ExhaustionError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustionError, got %v", err)
	}
	if ex.Attempts != 6 {
		t.Errorf("expected 6 attempts recorded, got %d", ex.Attempts)
	}
	if len(log) != 6 {
		t.Errorf("expected 6 calls (3 models x 2 credentials), got %d", len(log))
	}
	// Model-outer ordering: all credentials tried before the cascade degrades.
	wantOrder := []attempt{
		{"m1", "key-a"}, {"m1", "key-b"},
		{"m2", "key-a"}, {"m2", "key-b"},
		{"m3", "key-a"}, {"m3", "key-b"},
	}
	for i := range wantOrder {
		if log[i] != wantOrder[i] {
			t.Errorf("attempt %d: expected %+v, got %+v", i, wantOrder[i], log[i])
		}
	}
	if !IsRateLimited(err) {
		t.Error("rate-limit-shaped exhaustion should report as rate limited")
	}
}

func TestGenerateContentErrorStillAdvances(t *testing.T) {
	var log []attempt
	d := fakeDispatcher([]string{"m1", "m2"}, &log, func(a attempt) (string, error) {
		if a.model == "m1" {
			// Neither a quota nor a credential failure; the cascade
			// must still move on.
			return "", errors.New("response blocked by safety settings")
		}
		return validResponse, nil
	})

	exam, err := d.Generate(context.Background(), Content{Text: "notes"}, testConfig(), "key-a", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(log))
	}
	if len(exam.Questions) != 2 {
		t.Errorf("expected 2 questions, got %d", len(exam.Questions))
	}
}

func TestGenerateMalformedResponseAdvances(t *testing.T) {
	var log []attempt
	d := fakeDispatcher([]string{"m1"}, &log, func(a attempt) (string, error) {
		if a.credential == "key-a" {
			return "not json at all", nil
		}
		return validResponse, nil
	})

	_, err := d.Generate(context.Background(), Content{Text: "notes"}, testConfig(), "key-a,key-b", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(log) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(log))
	}
}

func TestGenerateDefaultTitle(t *testing.T) {
	var log []attempt
	d := fakeDispatcher([]string{"m1"}, &log, func(attempt) (string, error) {
		return `{"title": "", "questions": [{"id": 1, "text": "Q", "options": ["a","b","c","d"], "correctAnswerIndex": 1, "explanation": "e", "topic": "t"}]}`, nil
	})

	exam, err := d.Generate(context.Background(), Content{Text: "notes"}, testConfig(), "key-a", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if exam.Title != "Generated Exam" {
		t.Errorf("expected fallback title, got %q", exam.Title)
	}
}

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		fail map[string]error
		want bool
	}{
		{"empty string", "  ", nil, false},
		{"all accepted", "k1,k2", nil, true},
		{"quota error still counts as recognized", "k1,k2",
			map[string]error{"k2": errors.New("quota exceeded for project")}, true},
		{"auth rejection fails", "k1,k2",
			map[string]error{"k2": errors.New("API key not valid. Please pass a valid API key.")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Dispatcher{
				probe: func(_ context.Context, cred string) error {
					if err, ok := tt.fail[cred]; ok {
						return err
					}
					return nil
				},
			}
			if got := d.ValidateCredentials(context.Background(), tt.raw); got != tt.want {
				t.Errorf("ValidateCredentials(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseExamErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", "{"},
		{"no questions", `{"title": "T", "questions": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseExam(tt.raw, testConfig()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGenerateBadAttachment(t *testing.T) {
	var log []attempt
	d := fakeDispatcher([]string{"m1"}, &log, func(attempt) (string, error) {
		return validResponse, nil
	})

	content := Content{Text: "notes", Images: []string{"%%%not-base64%%%"}}
	_, err := d.Generate(context.Background(), content, testConfig(), "key-a", "")
	if err == nil {
		t.Fatal("expected error for undecodable attachment")
	}
	if len(log) != 0 {
		t.Errorf("no attempts should be made when attachments fail to decode, got %d", len(log))
	}
	if fmt.Sprintf("%v", err) == "" {
		t.Error("error should carry context")
	}
}
