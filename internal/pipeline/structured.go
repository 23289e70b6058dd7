package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tutorllm/internal/ai"
	"tutorllm/internal/errs"
)

const (
	DefaultFlashcardCount = 10
	DefaultQuizCount      = 5
	DefaultDifficulty     = "Medium"
	MaxArtifactCount      = 50

	flashcardTemperature = 0.5
	quizTemperature      = 0.7
)

type Flashcard struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type QuizQuestion struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation"`
}

type Completer interface {
	Complete(ctx context.Context, messages []ai.ChatMessage, opts ai.CompletionOptions) (string, error)
}

type GeneratorConfig struct {
	Model      string
	TopK       int
	MaxRepairs int
}

// Generator produces flashcards and quizzes grounded on retrieved context.
// Replies that fail validation are sent back to the model with the reason,
// at most MaxRepairs times.
type Generator struct {
	llm        Completer
	retriever  Retriever
	model      string
	topK       int
	maxRepairs int
}

func NewGenerator(llm Completer, retriever Retriever, cfg GeneratorConfig) *Generator {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxRepairs < 0 {
		cfg.MaxRepairs = 0
	}
	return &Generator{llm: llm, retriever: retriever, model: cfg.Model, topK: cfg.TopK, maxRepairs: cfg.MaxRepairs}
}

func (g *Generator) Flashcards(ctx context.Context, topic string, count int) ([]Flashcard, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errs.New(errs.KindInvalidInput, "topic is required")
	}
	if count == 0 {
		count = DefaultFlashcardCount
	}
	if count < 0 || count > MaxArtifactCount {
		return nil, errs.New(errs.KindInvalidInput, fmt.Sprintf("count must be between 1 and %d", MaxArtifactCount))
	}

	passages, err := g.retrieve(ctx, topic)
	if err != nil {
		return nil, err
	}
	return generate(ctx, g, flashcardPrompt(topic, count, passages), flashcardTemperature, parseFlashcards)
}

func (g *Generator) Quiz(ctx context.Context, topic string, count int, difficulty string) ([]QuizQuestion, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errs.New(errs.KindInvalidInput, "topic is required")
	}
	if count == 0 {
		count = DefaultQuizCount
	}
	if count < 0 || count > MaxArtifactCount {
		return nil, errs.New(errs.KindInvalidInput, fmt.Sprintf("count must be between 1 and %d", MaxArtifactCount))
	}
	difficulty = strings.TrimSpace(difficulty)
	if difficulty == "" {
		difficulty = DefaultDifficulty
	}

	passages, err := g.retrieve(ctx, topic)
	if err != nil {
		return nil, err
	}
	return generate(ctx, g, quizPrompt(topic, count, difficulty, passages), quizTemperature,
		func(raw string) ([]QuizQuestion, error) { return parseQuiz(raw, count) })
}

func (g *Generator) retrieve(ctx context.Context, topic string) (string, error) {
	results, err := g.retriever.Query(ctx, topic, g.topK)
	if err != nil {
		return "", err
	}
	return JoinContext(results), nil
}

func generate[T any](ctx context.Context, g *Generator, prompt string, temperature float64, parse func(string) (T, error)) (T, error) {
	var zero T
	opts := ai.CompletionOptions{Model: g.model, Temperature: ai.Temperature(temperature), JSON: true}
	messages := []ai.ChatMessage{{Role: "user", Content: prompt}}

	var lastErr error
	for attempt := 0; attempt <= g.maxRepairs; attempt++ {
		raw, err := g.llm.Complete(ctx, messages, opts)
		if err != nil {
			return zero, err
		}
		out, err := parse(raw)
		if err == nil {
			return out, nil
		}
		lastErr = err
		slog.Warn("structured output rejected", "attempt", attempt+1, "error", err)
		messages = append(messages,
			ai.ChatMessage{Role: "assistant", Content: raw},
			ai.ChatMessage{Role: "user", Content: correctionPrompt(err)},
		)
	}
	return zero, errs.Wrap(errs.KindSchemaValidation,
		fmt.Sprintf("output still invalid after %d attempts", g.maxRepairs+1), lastErr)
}

// extractJSON strips markdown fences and surrounding prose, keeping the
// outermost JSON object.
func extractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", errors.New("reply contains no JSON object")
	}
	return s[start : end+1], nil
}

func parseFlashcards(raw string) ([]Flashcard, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	var set struct {
		Flashcards []Flashcard `json:"flashcards"`
	}
	if err := json.Unmarshal([]byte(body), &set); err != nil {
		return nil, fmt.Errorf("reply is not valid JSON for the schema: %w", err)
	}
	if err := ValidateFlashcards(set.Flashcards); err != nil {
		return nil, err
	}
	return set.Flashcards, nil
}

func ValidateFlashcards(cards []Flashcard) error {
	if len(cards) == 0 {
		return errors.New("flashcards must contain at least one card")
	}
	for i, c := range cards {
		if strings.TrimSpace(c.Question) == "" {
			return fmt.Errorf("flashcard %d has an empty question", i+1)
		}
		if strings.TrimSpace(c.Answer) == "" {
			return fmt.Errorf("flashcard %d has an empty answer", i+1)
		}
	}
	return nil
}

func parseQuiz(raw string, count int) ([]QuizQuestion, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	var quiz struct {
		Questions []QuizQuestion `json:"questions"`
	}
	if err := json.Unmarshal([]byte(body), &quiz); err != nil {
		return nil, fmt.Errorf("reply is not valid JSON for the schema: %w", err)
	}
	for i := range quiz.Questions {
		quiz.Questions[i].Answer = resolveAnswer(quiz.Questions[i])
	}
	if err := ValidateQuiz(quiz.Questions, count); err != nil {
		return nil, err
	}
	return quiz.Questions, nil
}

// resolveAnswer turns a bare option letter such as "B" or "b)" into the
// option text it points at.
func resolveAnswer(q QuizQuestion) string {
	a := strings.TrimSpace(q.Answer)
	for _, opt := range q.Options {
		if strings.TrimSpace(opt) == a {
			return a
		}
	}
	letter := strings.TrimRight(a, ").:")
	if len(letter) == 1 && len(q.Options) == 4 {
		idx := int(strings.ToUpper(letter)[0]) - 'A'
		if idx >= 0 && idx < 4 {
			return strings.TrimSpace(q.Options[idx])
		}
	}
	return a
}

// ValidateQuiz checks the structural rules every quiz must meet: exactly
// count questions, each with 4 distinct non-empty options and an answer
// that is one of them.
func ValidateQuiz(questions []QuizQuestion, count int) error {
	if len(questions) != count {
		return fmt.Errorf("quiz must contain exactly %d questions, got %d", count, len(questions))
	}
	for i, q := range questions {
		n := i + 1
		if strings.TrimSpace(q.Question) == "" {
			return fmt.Errorf("question %d has empty text", n)
		}
		if len(q.Options) != 4 {
			return fmt.Errorf("question %d must have exactly 4 options, got %d", n, len(q.Options))
		}
		seen := make(map[string]struct{}, 4)
		for _, opt := range q.Options {
			o := strings.TrimSpace(opt)
			if o == "" {
				return fmt.Errorf("question %d has an empty option", n)
			}
			if _, dup := seen[o]; dup {
				return fmt.Errorf("question %d has duplicate option %q", n, o)
			}
			seen[o] = struct{}{}
		}
		if _, ok := seen[strings.TrimSpace(q.Answer)]; !ok {
			return fmt.Errorf("question %d answer %q is not one of its options", n, q.Answer)
		}
		if strings.TrimSpace(q.Explanation) == "" {
			return fmt.Errorf("question %d has an empty explanation", n)
		}
	}
	return nil
}
