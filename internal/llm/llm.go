// Package llm turns study material into a structured multiple-choice
// exam by calling the Gemini API, rotating through multiple
// credentials and model variants until one attempt succeeds.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/TheInternetGod/note2exam/internal/model"
)

// responseSchema constrains every generation response to the exam
// JSON shape. All fields are required; the provider rejects anything
// that does not match.
var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title": {Type: genai.TypeString},
		"questions": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"id":                 {Type: genai.TypeInteger},
					"text":               {Type: genai.TypeString},
					"options":            {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
					"correctAnswerIndex": {Type: genai.TypeInteger},
					"explanation":        {Type: genai.TypeString},
					"topic":              {Type: genai.TypeString},
				},
				Required: []string{"id", "text", "options", "correctAnswerIndex", "explanation", "topic"},
			},
		},
	},
	Required: []string{"title", "questions"},
}

// callGemini performs one generation attempt with one credential
// against one model variant and returns the raw JSON response text.
func callGemini(ctx context.Context, credential, modelName, prompt string, media []Media) (string, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(credential))
	if err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	m := client.GenerativeModel(modelName)
	m.ResponseMIMEType = "application/json"
	m.ResponseSchema = responseSchema

	parts := []genai.Part{genai.Text(prompt)}
	for _, md := range media {
		parts = append(parts, genai.Blob{MIMEType: md.MIMEType, Data: md.Data})
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("empty response from model")
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("empty response from model")
	}
	return sb.String(), nil
}

// probeGemini makes the cheapest possible call that exercises a
// credential's authentication, against the cascade's safety-net model.
func probeGemini(ctx context.Context, credential string) error {
	client, err := genai.NewClient(ctx, option.WithAPIKey(credential))
	if err != nil {
		return err
	}
	defer client.Close()

	_, err = client.GenerativeModel(probeModel).CountTokens(ctx, genai.Text("ping"))
	return err
}

type rawExam struct {
	Title     string           `json:"title"`
	Questions []model.Question `json:"questions"`
}

// parseExam decodes a raw generation response and re-sequences
// question ids to 1..N in returned order. Whatever ids the model
// produced are discarded, guaranteeing uniqueness and stable ordering.
func parseExam(raw string, cfg model.ExamConfig) (*model.GeneratedExam, error) {
	var decoded rawExam
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("parse generation response: %w", err)
	}
	if len(decoded.Questions) == 0 {
		return nil, errors.New("generation response contained no questions")
	}

	for i := range decoded.Questions {
		decoded.Questions[i].ID = i + 1
	}

	title := decoded.Title
	if title == "" {
		title = "Generated Exam"
	}

	return &model.GeneratedExam{
		Title:     title,
		Questions: decoded.Questions,
		Config:    cfg,
	}, nil
}
