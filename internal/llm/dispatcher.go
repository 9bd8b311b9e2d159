package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/TheInternetGod/note2exam/internal/llm/prompts"
	"github.com/TheInternetGod/note2exam/internal/model"
)

// ModelCascade is the fixed fallback order, most capable first. The
// order is deliberate: all credentials are exhausted on a model before
// quality degrades to the next one.
var ModelCascade = []string{
	"gemini-3-flash-preview",
	"gemini-2.5-flash",
	"gemini-2.5-flash-lite",
	"gemini-1.5-flash",
}

// probeModel is the cascade's safety net, used for credential
// validation probes.
const probeModel = "gemini-1.5-flash"

// generateFunc performs one attempt against the provider.
type generateFunc func(ctx context.Context, credential, modelName, prompt string, media []Media) (string, error)

// probeFunc performs one minimal acceptance check of a credential.
type probeFunc func(ctx context.Context, credential string) error

// Dispatcher resolves a credential pool and walks the model cascade
// for each generation request. Attempts run sequentially, never
// concurrently: ordered fallback trades latency for predictable cost.
type Dispatcher struct {
	models []string
	invoke generateFunc
	probe  probeFunc
}

// NewDispatcher creates a Dispatcher backed by the Gemini API.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		models: ModelCascade,
		invoke: callGemini,
		probe:  probeGemini,
	}
}

// Generate produces an exam from content and config, trying every
// (model, credential) pair in order and returning on the first
// success. An in-flight attempt is never cancelled mid-call; the next
// candidate starts only after the previous one fails.
func (d *Dispatcher) Generate(ctx context.Context, content Content, cfg model.ExamConfig, userKeys, systemKeys string) (*model.GeneratedExam, error) {
	creds := ResolveCredentials(userKeys, systemKeys)
	if len(creds) == 0 {
		slog.Error("no API credentials available")
		return nil, ErrNoCredentials
	}

	media, err := content.mediaParts()
	if err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}

	prompt, err := prompts.BuildExamPrompt(cfg, prompts.SanitizeSource(content.Text))
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	requestID := uuid.NewString()
	attempts := 0
	var lastErr error

	for _, modelName := range d.models {
		for _, cred := range creds {
			attempts++
			slog.Info("attempting generation",
				"request_id", requestID,
				"model", modelName,
				"credential", MaskCredential(cred),
			)

			raw, err := d.invoke(ctx, cred, modelName, prompt, media)
			if err == nil {
				exam, perr := parseExam(raw, cfg)
				if perr == nil {
					slog.Info("generation succeeded",
						"request_id", requestID,
						"model", modelName,
						"questions", len(exam.Questions),
						"attempts", attempts,
					)
					return exam, nil
				}
				err = perr
			}

			// Every failure, whatever its kind, falls through to the
			// next candidate. Only exhaustion of the whole cascade is
			// terminal.
			lastErr = err
			slog.Warn("generation attempt failed",
				"request_id", requestID,
				"model", modelName,
				"credential", MaskCredential(cred),
				"kind", Classify(err).String(),
				"error", err,
			)
		}
	}

	return nil, &ExhaustionError{Attempts: attempts, LastErr: lastErr}
}

// ValidateCredentials splits a raw credential string and probes each
// credential in parallel with one minimal call. It returns true only
// if every credential is accepted. An auth rejection disqualifies a
// credential; any other failure, quota exhaustion included, still
// proves the key is recognized. Best-effort: acceptance is not a
// guarantee of remaining quota.
func (d *Dispatcher) ValidateCredentials(ctx context.Context, raw string) bool {
	creds := SplitCredentials(raw)
	if len(creds) == 0 {
		return false
	}

	results := make([]bool, len(creds))
	done := make(chan int, len(creds))
	for i, cred := range creds {
		go func(i int, cred string) {
			err := d.probe(ctx, cred)
			results[i] = err == nil || Classify(err) != KindInvalidCredential
			done <- i
		}(i, cred)
	}
	for range creds {
		<-done
	}

	for i, ok := range results {
		if !ok {
			slog.Warn("credential rejected during validation", "credential", MaskCredential(creds[i]))
			return false
		}
	}
	return true
}
