package prompts

import (
	"bytes"
	"embed"
	"errors"
	"strings"
	"sync"
	"text/template"

	"github.com/TheInternetGod/note2exam/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

// MaxSourceChars caps the source text embedded in a prompt. Anything
// beyond the cap is cut and marked, which bounds request cost and
// avoids oversized-payload failures.
const MaxSourceChars = 80000

const truncationMarker = "... [truncated]"

// difficultyGuidelines maps each difficulty tier to its structural
// rules. One lookup table, one template: call sites never branch on
// difficulty themselves.
var difficultyGuidelines = map[model.Difficulty]string{
	model.DifficultyEasy: "Questions must test basic facts and definitions stated directly in the source. " +
		"Keep question and option language simple, direct, and concise. Single-step recall is acceptable.",
	model.DifficultyMedium: "Questions must require conceptual understanding and application of knowledge. " +
		"Prefer 'how' and 'why' over 'what'. Distractors must be plausible and test comprehension, not trick wording.",
	model.DifficultyHard: "Questions must demand complex reasoning, multi-step analysis, or synthesis of multiple " +
		"concepts from the source. Use multi-statement and assertion-reason formats where the material allows; " +
		"single-step recall questions are forbidden. Use precise technical terminology, and make questions and " +
		"options significantly longer and more detailed to challenge deep mastery.",
}

var (
	loadOnce sync.Once
	loadErr  error
	examTmpl *template.Template
)

type examData struct {
	Difficulty    string
	Guidelines    string
	QuestionCount int
	SourceText    string
}

func load() error {
	loadOnce.Do(func() {
		content, err := templateFS.ReadFile("templates/exam.txt")
		if err != nil {
			loadErr = errors.New("read prompt template: " + err.Error())
			return
		}
		examTmpl, loadErr = template.New("exam").Parse(string(content))
	})
	return loadErr
}

// SanitizeSource trims the raw source text to MaxSourceChars,
// suffixing a truncation marker when anything was cut.
func SanitizeSource(text string) string {
	if len(text) <= MaxSourceChars {
		return text
	}
	return text[:MaxSourceChars] + truncationMarker
}

// BuildExamPrompt renders the generation prompt. It is a pure function
// of the config and the sanitized source text: the same inputs always
// produce the same prompt.
func BuildExamPrompt(cfg model.ExamConfig, sourceText string) (string, error) {
	if err := load(); err != nil {
		return "", err
	}

	guidelines, ok := difficultyGuidelines[cfg.Difficulty]
	if !ok {
		guidelines = difficultyGuidelines[model.DifficultyMedium]
	}

	data := examData{
		Difficulty:    string(cfg.Difficulty),
		Guidelines:    guidelines,
		QuestionCount: cfg.QuestionCount,
		SourceText:    strings.TrimSpace(sourceText),
	}

	var buf bytes.Buffer
	if err := examTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
