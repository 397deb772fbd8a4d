package questions

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kiliankoe/geotrivia/internal/game"
	"gopkg.in/yaml.v3"
)

// Static serves questions from a fixed bank, cycling through it when more are
// requested than it holds. Every question is stamped with the requested region.
type Static struct {
	Bank []game.Question
}

func NewStatic(bank []game.Question) *Static {
	if len(bank) == 0 {
		bank = DefaultBank()
	}
	return &Static{Bank: bank}
}

func (s *Static) GenerateQuestions(ctx context.Context, region string, count int) ([]game.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.Bank) == 0 {
		return nil, errors.New("question bank is empty")
	}
	out := make([]game.Question, count)
	for i := range out {
		q := s.Bank[i%len(s.Bank)]
		q.Region = region
		if q.TimeoutSeconds <= 0 {
			q.TimeoutSeconds = DefaultTimeout
		}
		out[i] = q
	}
	return out, nil
}

type bankFile struct {
	Questions []game.Question `yaml:"questions"`
}

// LoadBank reads a YAML question bank:
//
//	questions:
//	  - question: Which river flows through Cairo?
//	    options: [Nile, Congo, Niger, Zambezi]
//	    correctAnswer: 0
//	    timeout: 10
func LoadBank(path string) ([]game.Question, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	var f bankFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse question bank %s: %w", path, err)
	}
	if len(f.Questions) == 0 {
		return nil, fmt.Errorf("question bank %s has no questions", path)
	}
	for i, q := range f.Questions {
		if err := game.ValidateQuestion(q); err != nil {
			return nil, fmt.Errorf("question bank %s: question %d: %w", path, i, err)
		}
	}
	return f.Questions, nil
}

// MarshalBank renders questions in the LoadBank format.
func MarshalBank(qs []game.Question) ([]byte, error) {
	return yaml.Marshal(bankFile{Questions: qs})
}

func DefaultBank() []game.Question {
	return []game.Question{
		{Text: "Which river is the longest in the world?", Options: [4]string{"Nile", "Amazon", "Yangtze", "Mississippi"}, CorrectAnswerIndex: 0, TimeoutSeconds: 10},
		{Text: "Which wall was torn down in 1989?", Options: [4]string{"Hadrian's Wall", "Berlin Wall", "Great Wall", "Western Wall"}, CorrectAnswerIndex: 1, TimeoutSeconds: 10},
		{Text: "Which empire built Machu Picchu?", Options: [4]string{"Aztec", "Maya", "Inca", "Olmec"}, CorrectAnswerIndex: 2, TimeoutSeconds: 10},
		{Text: "Which city hosted the first modern Olympics?", Options: [4]string{"Paris", "London", "Rome", "Athens"}, CorrectAnswerIndex: 3, TimeoutSeconds: 10},
		{Text: "Which strait separates Europe and Africa?", Options: [4]string{"Gibraltar", "Bosporus", "Hormuz", "Malacca"}, CorrectAnswerIndex: 0, TimeoutSeconds: 12},
		{Text: "Which country gifted the Statue of Liberty?", Options: [4]string{"Spain", "France", "Britain", "Italy"}, CorrectAnswerIndex: 1, TimeoutSeconds: 8},
		{Text: "Which desert is the largest hot desert?", Options: [4]string{"Gobi", "Kalahari", "Sahara", "Atacama"}, CorrectAnswerIndex: 2, TimeoutSeconds: 8},
		{Text: "Which treaty ended the First World War?", Options: [4]string{"Utrecht", "Westphalia", "Paris", "Versailles"}, CorrectAnswerIndex: 3, TimeoutSeconds: 12},
		{Text: "Which canal links the Mediterranean and Red Sea?", Options: [4]string{"Suez", "Panama", "Kiel", "Corinth"}, CorrectAnswerIndex: 0, TimeoutSeconds: 10},
		{Text: "Which mountain range contains Everest?", Options: [4]string{"Andes", "Himalayas", "Alps", "Rockies"}, CorrectAnswerIndex: 1, TimeoutSeconds: 8},
	}
}
