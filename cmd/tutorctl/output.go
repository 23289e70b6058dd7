package main

import (
	"fmt"
	"io"
	"strings"

	"tutorllm/internal/app"
	"tutorllm/internal/pipeline"
)

func queryInput(question string) app.QueryInput {
	return app.QueryInput{Question: question}
}

func printSuccess(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, "✓ "+fmt.Sprintf(format, args...))
}

func renderFlashcards(w io.Writer, cards []pipeline.Flashcard) {
	for i, c := range cards {
		fmt.Fprintf(w, "%d. Q: %s\n   A: %s\n", i+1, c.Question, c.Answer)
	}
}

func renderQuiz(w io.Writer, questions []pipeline.QuizQuestion) {
	for i, q := range questions {
		fmt.Fprintf(w, "%d. %s\n", i+1, q.Question)
		for j, opt := range q.Options {
			marker := " "
			if opt == q.Answer {
				marker = "*"
			}
			fmt.Fprintf(w, "  %s %c) %s\n", marker, 'A'+rune(j), opt)
		}
		if exp := strings.TrimSpace(q.Explanation); exp != "" {
			fmt.Fprintf(w, "     %s\n", exp)
		}
	}
}
