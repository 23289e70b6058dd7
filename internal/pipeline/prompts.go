package pipeline

import (
	"fmt"
	"strings"

	"tutorllm/internal/retrieval"
)

// DisclosureMarker is emitted ahead of any grounded answer that had no
// supporting context.
const DisclosureMarker = "I couldn't find specific information about this in your uploaded documents."

const generalTemplate = `You are a helpful AI assistant named TutorLLM.

User Input: %s

Answer (concise and helpful):`

const tutorTemplate = `You are an intelligent tutor assistant designed to help students prepare for exams.

Guidelines for your answer:
1. **Context First**: Use the provided context to answer the question.
2. **Fallback**: If the provided context does not contain the answer, you MUST state "` + DisclosureMarker + `" and then provide a helpful answer based on your general knowledge.
3. **Structure**: Use bullet points or paragraphs.
4. **Tone**: Formal and educational.

Context:
%s

Question: %s

Answer:
`

// noContextTemplate is used when retrieval found nothing. The disclosure has
// already been streamed, so the model must not repeat it.
const noContextTemplate = `You are an intelligent tutor assistant designed to help students prepare for exams.

The student's uploaded documents contain nothing relevant to this question and they have already been told so. Do not mention the documents. Answer from your general knowledge.

Guidelines for your answer:
1. **Structure**: Use bullet points or paragraphs.
2. **Tone**: Formal and educational.

Question: %s

Answer:
`

const flashcardTemplate = `You are an intelligent tutor helper.
Create %d flashcards based on the following context for the given topic: "%s".

Context:
%s

%s

Make the questions conceptual and the answers concise (1 sentence max).`

const quizTemplate = `You are an expert exam creator.
Generate a quiz with %d multiple-choice questions (MCQs) about the topic: "%s".
Difficulty Level: %s.

Use the provided context to ensure the questions are accurate and relevant to the material.
If the context is insufficient, use your general knowledge but prioritize the context.

Context:
%s

%s

Make sure to provide exactly 4 options for each question.
The "answer" field must repeat the text of the correct option exactly.
Ensure each question has a concise 1-line explanation for the correct answer.`

const correctionTemplate = `Your previous reply was rejected: %s.
Reply again with ONLY valid JSON that matches the required schema. No prose, no markdown fences.`

const formatInstructions = "The output should be formatted as a JSON instance that conforms to the JSON schema below.\n\nHere is the output schema:\n```\n%s\n```"

// JoinContext concatenates retrieved chunk texts best first, separated by a
// blank line.
func JoinContext(results []retrieval.Scored) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if strings.TrimSpace(r.Chunk.Text) == "" {
			continue
		}
		parts = append(parts, r.Chunk.Text)
	}
	return strings.Join(parts, "\n\n")
}

func generalPrompt(question string) string {
	return fmt.Sprintf(generalTemplate, question)
}

func tutorPrompt(passages, question string) string {
	return fmt.Sprintf(tutorTemplate, passages, question)
}

func noContextPrompt(question string) string {
	return fmt.Sprintf(noContextTemplate, question)
}

func flashcardPrompt(topic string, count int, passages string) string {
	return fmt.Sprintf(flashcardTemplate, count, topic, passages, fmt.Sprintf(formatInstructions, flashcardSchema))
}

func quizPrompt(topic string, count int, difficulty, passages string) string {
	return fmt.Sprintf(quizTemplate, count, topic, difficulty, passages, fmt.Sprintf(formatInstructions, quizSchema))
}

func correctionPrompt(reason error) string {
	return fmt.Sprintf(correctionTemplate, reason)
}
