package model

// Difficulty represents exam difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// ExamConfig holds the parameters an exam is generated with.
// It is immutable once a GeneratedExam has been produced.
type ExamConfig struct {
	Difficulty      Difficulty `json:"difficulty" validate:"required,oneof=Easy Medium Hard"`
	DurationMinutes int        `json:"durationMinutes" validate:"required,min=1"`
	QuestionCount   int        `json:"questionCount" validate:"required,min=1"`
	CandidateName   string     `json:"candidateName" validate:"required"`
}

// Question is a single multiple-choice question. IDs are assigned
// sequentially (1..N) by the dispatcher regardless of what the model
// returned, so they are unique and stable within an exam.
type Question struct {
	ID                 int      `json:"id"`
	Text               string   `json:"text"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex"`
	Explanation        string   `json:"explanation"`
	Topic              string   `json:"topic"`
}

// GeneratedExam is the dispatcher's output: one exam, immutable for
// the lifetime of the session that consumes it.
type GeneratedExam struct {
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
	Config    ExamConfig `json:"config"`
}

// ExamResult holds the final score, computed once at submission.
// Score applies negative marking: correct − 0.25×wrong.
type ExamResult struct {
	Score            float64     `json:"score"`
	TotalQuestions   int         `json:"totalQuestions"`
	CorrectAnswers   int         `json:"correctAnswers"`
	WrongAnswers     int         `json:"wrongAnswers"`
	SkippedAnswers   int         `json:"skippedAnswers"`
	TimeTakenSeconds int         `json:"timeTakenSeconds"`
	Answers          map[int]int `json:"answers"`
}

// ProgressVersion is the snapshot format version. A stored record with
// a different version is discarded and the session starts fresh.
const ProgressVersion = 1

// SessionProgress is the durable snapshot of an in-progress exam.
// ExamTitle is a weak identity check: a snapshot whose title does not
// match the current exam is stale and must be discarded.
type SessionProgress struct {
	Version              int         `json:"version"`
	ExamTitle            string      `json:"examTitle"`
	CurrentQuestionIndex int         `json:"currentQuestionIndex"`
	Answers              map[int]int `json:"answers"`
	Flagged              []int       `json:"flagged"`
	Visited              []int       `json:"visited"`
	TimeLeftSeconds      int         `json:"timeLeftSeconds"`
}

// QuestionStatus categorizes a question for the palette summary.
type QuestionStatus string

const (
	StatusAnswered    QuestionStatus = "answered"
	StatusMarked      QuestionStatus = "marked"
	StatusNotAnswered QuestionStatus = "not_answered"
	StatusNotVisited  QuestionStatus = "not_visited"
)

// PaletteStats are the derived per-exam counters shown next to the
// question palette. Recomputed on demand, never stored.
type PaletteStats struct {
	Answered    int `json:"answered"`
	Marked      int `json:"marked"`
	NotAnswered int `json:"notAnswered"`
	NotVisited  int `json:"notVisited"`
}

// AppView identifies the top-level screen the client is on.
type AppView string

const (
	ViewLanding   AppView = "LANDING"
	ViewDashboard AppView = "DASHBOARD"
	ViewExam      AppView = "EXAM"
	ViewResults   AppView = "RESULTS"
)

// AppState is the whole-app resume record: which screen was active,
// the generated exam, and the result if one exists. Persisted under
// its own store key, separate from SessionProgress.
type AppState struct {
	CurrentView   AppView        `json:"currentView"`
	GeneratedExam *GeneratedExam `json:"generatedExam,omitempty"`
	ExamResult    *ExamResult    `json:"examResult,omitempty"`
}
