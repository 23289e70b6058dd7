package model

// ContentType tells how a document's text was obtained.
type ContentType string

const (
	ContentText            ContentType = "text"
	ContentTabular         ContentType = "tabular"
	ContentBinaryExtracted ContentType = "binary-extracted"
)

// Document is an uploaded source file reduced to plain text. It is never
// stored itself; only its chunks reach the vector index.
type Document struct {
	ID          string      `json:"id"`
	Filename    string      `json:"filename"`
	ContentType ContentType `json:"content_type"`
	Text        string      `json:"-"`
}

// Chunk is a contiguous slice of a document's text. Start is the rune offset
// of the slice in the source text.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Position   int    `json:"position"`
	Start      int    `json:"start"`
	Text       string `json:"text"`
}
