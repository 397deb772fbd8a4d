// Package questions implements the question generators a game can be started with.
package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kiliankoe/geotrivia/internal/ai"
	"github.com/kiliankoe/geotrivia/internal/game"
	"github.com/rs/zerolog/log"
)

const (
	MinTimeout     = 7
	MaxTimeout     = 15
	DefaultTimeout = 10
)

const DefaultSystemPrompt = "You write short, factual multiple choice quiz questions. " +
	"Reply with JSON only, no prose and no markdown."

// LLM asks a text-generation provider for questions.
type LLM struct {
	Provider     ai.Provider
	Model        string
	SystemPrompt string
}

func (g *LLM) GenerateQuestions(ctx context.Context, region string, count int) ([]game.Question, error) {
	if g.Provider == nil {
		return nil, errors.New("no provider configured")
	}
	system := g.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	text, err := g.Provider.CompleteWithSystem(ctx, g.Model, system, Prompt(region, count))
	if err != nil {
		return nil, err
	}
	qs, err := Parse(text, region)
	if err != nil {
		return nil, err
	}
	if len(qs) < count {
		return nil, fmt.Errorf("provider returned %d valid questions, want %d", len(qs), count)
	}
	return qs[:count], nil
}

// Prompt is the instruction sent to the provider.
func Prompt(region string, count int) string {
	return fmt.Sprintf("Generate %d concise Geo-Political-Historical questions about %s with a maximum of 10 words "+
		"per question and a maximum of 5 words per option. Respond with a JSON object "+
		`{"questions": [...]} where every question has the fields "question" (string), "options" `+
		`(exactly 4 strings), "correctAnswer" (index of the correct option, 0 to 3), "timeout" `+
		`(seconds to answer, %d to %d) and "region" (the city, state, country or hotspot it is about).`,
		count, region, MinTimeout, MaxTimeout)
}

type rawQuestion struct {
	Question           string   `json:"question"`
	Options            []string `json:"options"`
	CorrectAnswer      *int     `json:"correctAnswer"`
	CorrectAnswerIndex *int     `json:"correctAnswerIndex"`
	Timeout            int      `json:"timeout"`
	Region             string   `json:"region"`
}

// Parse decodes a provider reply into valid questions. The reply may be a bare
// array or an object with a "questions" array, optionally wrapped in a code fence.
// Invalid entries are dropped.
func Parse(text, region string) ([]game.Question, error) {
	body := stripFence(text)
	var raws []rawQuestion
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &raws); err != nil {
			return nil, fmt.Errorf("decode questions: %w", err)
		}
	} else {
		var wrapped struct {
			Questions []rawQuestion `json:"questions"`
		}
		if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
			return nil, fmt.Errorf("decode questions: %w", err)
		}
		raws = wrapped.Questions
	}

	out := make([]game.Question, 0, len(raws))
	for i, r := range raws {
		q, err := r.toQuestion(region)
		if err != nil {
			log.Debug().Err(err).Int("index", i).Msg("dropping generated question")
			continue
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, errors.New("no valid questions in provider reply")
	}
	return out, nil
}

func (r rawQuestion) toQuestion(region string) (game.Question, error) {
	if len(r.Options) != 4 {
		return game.Question{}, fmt.Errorf("want 4 options, got %d", len(r.Options))
	}
	idx := r.CorrectAnswer
	if idx == nil {
		idx = r.CorrectAnswerIndex
	}
	if idx == nil {
		return game.Question{}, errors.New("missing correct answer")
	}
	q := game.Question{
		Text:               strings.TrimSpace(r.Question),
		CorrectAnswerIndex: *idx,
		Region:             strings.TrimSpace(r.Region),
		TimeoutSeconds:     clampTimeout(r.Timeout),
	}
	for i, o := range r.Options {
		q.Options[i] = strings.TrimSpace(o)
	}
	if q.Region == "" {
		q.Region = region
	}
	if err := game.ValidateQuestion(q); err != nil {
		return game.Question{}, err
	}
	return q, nil
}

func clampTimeout(t int) int {
	switch {
	case t <= 0:
		return DefaultTimeout
	case t < MinTimeout:
		return MinTimeout
	case t > MaxTimeout:
		return MaxTimeout
	}
	return t
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
