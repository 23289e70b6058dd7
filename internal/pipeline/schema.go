package pipeline

const flashcardSchema = `{
  "type": "object",
  "properties": {
    "flashcards": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "question": {"type": "string", "description": "The question on the front of the card"},
          "answer": {"type": "string", "description": "The concise 1-line answer on the back"}
        },
        "required": ["question", "answer"]
      }
    }
  },
  "required": ["flashcards"]
}`

const quizSchema = `{
  "type": "object",
  "properties": {
    "questions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "question": {"type": "string", "description": "The question text"},
          "options": {"type": "array", "items": {"type": "string"}, "minItems": 4, "maxItems": 4, "description": "Exactly 4 distinct options"},
          "answer": {"type": "string", "description": "The correct option, copied from options"},
          "explanation": {"type": "string", "description": "A 1-line explanation of why the correct answer is right"}
        },
        "required": ["question", "options", "answer", "explanation"]
      }
    }
  },
  "required": ["questions"]
}`
