// Package session manages the lifecycle of one in-progress timed
// exam: navigation, answers, flags, the visited set, a countdown that
// auto-submits, and snapshot persistence so a restart resumes exactly
// where the candidate left off.
package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/TheInternetGod/note2exam/internal/model"
)

// ProgressStore persists session snapshots between restarts.
type ProgressStore interface {
	SaveProgress(model.SessionProgress) error
	LoadProgress() (*model.SessionProgress, error)
	ClearProgress() error
}

// Phase is the controller's lifecycle state.
type Phase string

const (
	// PhaseInProgress: navigating and answering.
	PhaseInProgress Phase = "in_progress"
	// PhaseSubmitting: submit requested, confirmation pending.
	PhaseSubmitting Phase = "submitting"
	// PhaseCompleted: terminal; result computed, progress cleared.
	PhaseCompleted Phase = "completed"
)

var (
	// ErrNoQuestions means the exam has nothing to run a session over.
	ErrNoQuestions = errors.New("exam has no questions")
	// ErrCompleted means the operation arrived after the exam ended.
	ErrCompleted = errors.New("exam already completed")
	// ErrNotSubmitting means confirm/cancel arrived without a pending
	// submit request.
	ErrNotSubmitting = errors.New("no submit confirmation pending")
	// ErrIndexOutOfRange means a jump target does not exist.
	ErrIndexOutOfRange = errors.New("question index out of range")
)

// Snapshot is a read-only view of the session for callers.
type Snapshot struct {
	Phase                Phase              `json:"phase"`
	CurrentQuestionIndex int                `json:"currentQuestionIndex"`
	CurrentQuestion      model.Question     `json:"currentQuestion"`
	TotalQuestions       int                `json:"totalQuestions"`
	Answers              map[int]int        `json:"answers"`
	Flagged              []int              `json:"flagged"`
	Visited              []int              `json:"visited"`
	TimeLeftSeconds      int                `json:"timeLeftSeconds"`
	Stats                model.PaletteStats `json:"stats"`
}

// Controller owns all mutable exam state. All operations are safe for
// concurrent use; the countdown goroutine is the only non-user-driven
// source of mutation.
type Controller struct {
	mu       sync.Mutex
	exam     model.GeneratedExam
	store    ProgressStore
	phase    Phase
	index    int
	answers  map[int]int
	flagged  map[int]bool
	visited  map[int]bool
	timeLeft int
	result   *model.ExamResult

	onComplete func(model.ExamResult)
	stopClock  chan struct{}
	clockOnce  sync.Once
	stopOnce   sync.Once
}

// New builds a controller for the given exam. A persisted snapshot is
// adopted only when its exam title matches; anything else starts
// fresh with the first question visited and the clock at full
// duration. The countdown does not run until StartClock.
func New(exam model.GeneratedExam, st ProgressStore) (*Controller, error) {
	if len(exam.Questions) == 0 {
		return nil, ErrNoQuestions
	}

	c := &Controller{
		exam:      exam,
		store:     st,
		phase:     PhaseInProgress,
		answers:   make(map[int]int),
		flagged:   make(map[int]bool),
		visited:   make(map[int]bool),
		timeLeft:  exam.Config.DurationMinutes * 60,
		stopClock: make(chan struct{}),
	}
	c.visited[exam.Questions[0].ID] = true

	saved, err := st.LoadProgress()
	if err != nil {
		return nil, err
	}
	if saved != nil && saved.ExamTitle == exam.Title {
		c.restore(saved)
	} else if saved != nil {
		slog.Warn("discarding progress for a different exam",
			"stored", saved.ExamTitle, "current", exam.Title)
		if err := st.ClearProgress(); err != nil {
			return nil, err
		}
	}

	c.persistLocked()
	return c, nil
}

func (c *Controller) restore(p *model.SessionProgress) {
	if p.CurrentQuestionIndex >= 0 && p.CurrentQuestionIndex < len(c.exam.Questions) {
		c.index = p.CurrentQuestionIndex
	}
	for id, opt := range p.Answers {
		c.answers[id] = opt
	}
	for _, id := range p.Flagged {
		c.flagged[id] = true
	}
	for _, id := range p.Visited {
		c.visited[id] = true
	}
	if p.TimeLeftSeconds > 0 {
		c.timeLeft = p.TimeLeftSeconds
	}
	// The current question is always visited, whatever the snapshot says.
	c.visited[c.exam.Questions[c.index].ID] = true
}

// SetOnComplete registers the callback fired when the exam finalizes,
// including timer-driven auto-submit. It runs outside the controller
// lock.
func (c *Controller) SetOnComplete(fn func(model.ExamResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

// StartClock begins the countdown at 1-second granularity. Reaching
// zero finalizes the exam immediately, bypassing confirmation.
// Idempotent: only the first call starts the ticker.
func (c *Controller) StartClock() {
	c.clockOnce.Do(func() {
		go c.runClock()
	})
}

// StopClock releases the countdown. Safe to call more than once.
func (c *Controller) StopClock() {
	c.stopOnce.Do(func() { close(c.stopClock) })
}

func (c *Controller) runClock() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopClock:
			return
		case <-ticker.C:
			if c.tick() {
				return
			}
		}
	}
}

// tick advances the countdown by one second. It returns true when the
// exam has ended and the clock goroutine should exit.
func (c *Controller) tick() bool {
	c.mu.Lock()
	if c.phase == PhaseCompleted {
		c.mu.Unlock()
		return true
	}

	c.timeLeft--
	if c.timeLeft > 0 {
		c.persistLocked()
		c.mu.Unlock()
		return false
	}

	c.timeLeft = 0
	res := c.finalizeLocked()
	cb := c.onComplete
	c.mu.Unlock()

	slog.Info("exam time expired, auto-submitted", "score", res.Score)
	if cb != nil {
		cb(res)
	}
	return true
}

// SelectOption records (or overwrites) the answer for the current
// question.
func (c *Controller) SelectOption(optionIndex int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseInProgress {
		return c.phaseErrLocked()
	}
	c.answers[c.currentLocked().ID] = optionIndex
	c.persistLocked()
	return nil
}

// ClearAnswer removes the current question's answer entry entirely.
// Absence of an entry is what "unanswered" means.
func (c *Controller) ClearAnswer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseInProgress {
		return c.phaseErrLocked()
	}
	delete(c.answers, c.currentLocked().ID)
	c.persistLocked()
	return nil
}

// Next moves to the following question, clamped at the last one.
func (c *Controller) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseInProgress {
		return c.phaseErrLocked()
	}
	c.moveLocked(c.index + 1)
	return nil
}

// Previous moves to the preceding question, clamped at the first one.
func (c *Controller) Previous() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseInProgress {
		return c.phaseErrLocked()
	}
	c.moveLocked(c.index - 1)
	return nil
}

// JumpTo navigates directly to a question index (palette navigation).
func (c *Controller) JumpTo(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseInProgress {
		return c.phaseErrLocked()
	}
	if index < 0 || index >= len(c.exam.Questions) {
		return ErrIndexOutOfRange
	}
	c.moveLocked(index)
	return nil
}

// MarkForReview flags the current question (idempotent) and advances
// to the next one.
func (c *Controller) MarkForReview() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseInProgress {
		return c.phaseErrLocked()
	}
	c.flagged[c.currentLocked().ID] = true
	c.moveLocked(c.index + 1)
	return nil
}

// moveLocked clamps the target index, tracks the visit, and persists.
func (c *Controller) moveLocked(target int) {
	if target < 0 {
		target = 0
	}
	if target > len(c.exam.Questions)-1 {
		target = len(c.exam.Questions) - 1
	}
	c.index = target
	c.visited[c.exam.Questions[target].ID] = true
	c.persistLocked()
}

// RequestSubmit opens the submit confirmation.
func (c *Controller) RequestSubmit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.phase {
	case PhaseCompleted:
		return ErrCompleted
	case PhaseSubmitting:
		return nil
	}
	c.phase = PhaseSubmitting
	return nil
}

// CancelSubmit returns from the confirmation back to the exam.
func (c *Controller) CancelSubmit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseCompleted {
		return ErrCompleted
	}
	if c.phase != PhaseSubmitting {
		return ErrNotSubmitting
	}
	c.phase = PhaseInProgress
	return nil
}

// ConfirmSubmit finalizes a pending submit request.
func (c *Controller) ConfirmSubmit() (model.ExamResult, error) {
	c.mu.Lock()
	if c.phase == PhaseCompleted {
		c.mu.Unlock()
		return model.ExamResult{}, ErrCompleted
	}
	if c.phase != PhaseSubmitting {
		c.mu.Unlock()
		return model.ExamResult{}, ErrNotSubmitting
	}
	res := c.finalizeLocked()
	cb := c.onComplete
	c.mu.Unlock()

	if cb != nil {
		cb(res)
	}
	return res, nil
}

// Finalize computes the result immediately, whatever the current
// phase. Calling it again returns the same result.
func (c *Controller) Finalize() (model.ExamResult, error) {
	c.mu.Lock()
	if c.phase == PhaseCompleted {
		res := *c.result
		c.mu.Unlock()
		return res, nil
	}
	res := c.finalizeLocked()
	cb := c.onComplete
	c.mu.Unlock()

	if cb != nil {
		cb(res)
	}
	return res, nil
}

// finalizeLocked scores the exam, clears persisted progress, and
// transitions to Completed. Callers hold the lock.
func (c *Controller) finalizeLocked() model.ExamResult {
	var correct, wrong, skipped int
	for _, q := range c.exam.Questions {
		ans, ok := c.answers[q.ID]
		switch {
		case !ok:
			skipped++
		case ans == q.CorrectAnswerIndex:
			correct++
		default:
			wrong++
		}
	}

	answers := make(map[int]int, len(c.answers))
	for id, opt := range c.answers {
		answers[id] = opt
	}

	res := model.ExamResult{
		Score:            float64(correct) - 0.25*float64(wrong),
		TotalQuestions:   len(c.exam.Questions),
		CorrectAnswers:   correct,
		WrongAnswers:     wrong,
		SkippedAnswers:   skipped,
		TimeTakenSeconds: c.exam.Config.DurationMinutes*60 - c.timeLeft,
		Answers:          answers,
	}

	c.result = &res
	c.phase = PhaseCompleted
	c.stopOnce.Do(func() { close(c.stopClock) })

	if err := c.store.ClearProgress(); err != nil {
		slog.Warn("clear progress after submit", "error", err)
	}
	return res
}

// Result returns the computed result once the exam has completed.
func (c *Controller) Result() (model.ExamResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return model.ExamResult{}, false
	}
	return *c.result, true
}

// Snapshot returns a consistent read-only view of the session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	answers := make(map[int]int, len(c.answers))
	for id, opt := range c.answers {
		answers[id] = opt
	}

	return Snapshot{
		Phase:                c.phase,
		CurrentQuestionIndex: c.index,
		CurrentQuestion:      c.exam.Questions[c.index],
		TotalQuestions:       len(c.exam.Questions),
		Answers:              answers,
		Flagged:              sortedIDs(c.flagged),
		Visited:              sortedIDs(c.visited),
		TimeLeftSeconds:      c.timeLeft,
		Stats:                c.statsLocked(),
	}
}

// Stats recomputes the palette counters on demand.
func (c *Controller) Stats() model.PaletteStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

// StatusOf categorizes one question for the palette. Priority order:
// answered beats marked beats visited, so an answered-and-flagged
// question counts as answered.
func (c *Controller) StatusOf(questionID int) model.QuestionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked(questionID)
}

func (c *Controller) statusLocked(questionID int) model.QuestionStatus {
	switch {
	case hasKey(c.answers, questionID):
		return model.StatusAnswered
	case c.flagged[questionID]:
		return model.StatusMarked
	case c.visited[questionID]:
		return model.StatusNotAnswered
	default:
		return model.StatusNotVisited
	}
}

func (c *Controller) statsLocked() model.PaletteStats {
	var stats model.PaletteStats
	for _, q := range c.exam.Questions {
		switch c.statusLocked(q.ID) {
		case model.StatusAnswered:
			stats.Answered++
		case model.StatusMarked:
			stats.Marked++
		case model.StatusNotAnswered:
			stats.NotAnswered++
		default:
			stats.NotVisited++
		}
	}
	return stats
}

func (c *Controller) currentLocked() model.Question {
	return c.exam.Questions[c.index]
}

func (c *Controller) phaseErrLocked() error {
	if c.phase == PhaseCompleted {
		return ErrCompleted
	}
	// Submitting: the confirmation dialog owns the session until it
	// is confirmed or cancelled.
	return ErrNotSubmitting
}

// persistLocked writes a full snapshot. Persistence failures are
// logged, never surfaced: losing a snapshot must not break the exam.
func (c *Controller) persistLocked() {
	p := model.SessionProgress{
		ExamTitle:            c.exam.Title,
		CurrentQuestionIndex: c.index,
		Answers:              c.answers,
		Flagged:              sortedIDs(c.flagged),
		Visited:              sortedIDs(c.visited),
		TimeLeftSeconds:      c.timeLeft,
	}
	if err := c.store.SaveProgress(p); err != nil {
		slog.Warn("persist session progress", "error", err)
	}
}

func sortedIDs(set map[int]bool) []int {
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func hasKey(m map[int]int, k int) bool {
	_, ok := m[k]
	return ok
}
