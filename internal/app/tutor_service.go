package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tutorllm/internal/chunker"
	"tutorllm/internal/errs"
	"tutorllm/internal/intent"
	"tutorllm/internal/loader"
	"tutorllm/internal/model"
	"tutorllm/internal/pipeline"
)

type ChunkIndexer interface {
	Insert(ctx context.Context, chunks []model.Chunk) (int, error)
}

type IntentClassifier interface {
	Classify(ctx context.Context, utterance string) (intent.Intent, error)
}

type StudyGenerator interface {
	Flashcards(ctx context.Context, topic string, count int) ([]pipeline.Flashcard, error)
	Quiz(ctx context.Context, topic string, count int, difficulty string) ([]pipeline.QuizQuestion, error)
}

// TutorService is the study workflow: ingest documents, answer questions,
// and build flashcards and quizzes.
type TutorService struct {
	splitter       *chunker.Splitter
	indexer        ChunkIndexer
	classifier     IntentClassifier
	conversational pipeline.StreamFunc
	grounded       pipeline.StreamFunc
	generator      StudyGenerator
	writer         *StreamWriter
	chats          *ChatService
	uploadsDir     string
}

type TutorDeps struct {
	Splitter       *chunker.Splitter
	Indexer        ChunkIndexer
	Classifier     IntentClassifier
	Conversational pipeline.StreamFunc
	Grounded       pipeline.StreamFunc
	Generator      StudyGenerator
	Writer         *StreamWriter
	Chats          *ChatService
	UploadsDir     string
}

func NewTutorService(deps TutorDeps) *TutorService {
	return &TutorService{
		splitter:       deps.Splitter,
		indexer:        deps.Indexer,
		classifier:     deps.Classifier,
		conversational: deps.Conversational,
		grounded:       deps.Grounded,
		generator:      deps.Generator,
		writer:         deps.Writer,
		chats:          deps.Chats,
		uploadsDir:     deps.UploadsDir,
	}
}

type IngestResult struct {
	Filename   string `json:"filename"`
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

// Ingest loads, chunks and indexes an uploaded file, then keeps a copy of
// the raw bytes in the uploads directory.
func (s *TutorService) Ingest(ctx context.Context, filename string, data []byte) (*IngestResult, error) {
	doc, err := loader.Load(filename, data)
	if err != nil {
		return nil, err
	}
	chunks := s.splitter.Split(doc.ID, doc.Text)
	if len(chunks) == 0 {
		return nil, errs.New(errs.KindIngestion, fmt.Sprintf("%s produced no chunks", doc.Filename))
	}

	n, err := s.indexer.Insert(ctx, chunks)
	if err != nil {
		return nil, err
	}

	if s.uploadsDir != "" {
		if err := s.saveUpload(doc.ID, data); err != nil {
			slog.Warn("save upload failed", "document_id", doc.ID, "error", err)
		}
	}
	slog.Info("document ingested", "document_id", doc.ID, "content_type", doc.ContentType, "chunks", n)
	return &IngestResult{Filename: doc.Filename, DocumentID: doc.ID, Chunks: n}, nil
}

func (s *TutorService) saveUpload(name string, data []byte) error {
	if err := os.MkdirAll(s.uploadsDir, 0o755); err != nil {
		return fmt.Errorf("create uploads dir failed: %w", err)
	}
	path := filepath.Join(s.uploadsDir, name)
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write upload failed: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename upload failed: %w", err)
	}
	return nil
}

type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// ListFiles returns the uploaded files, newest first.
func (s *TutorService) ListFiles() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.uploadsDir)
	if os.IsNotExist(err) {
		return []FileInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read uploads dir failed: %w", err)
	}
	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".part") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), Size: info.Size(), Modified: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Modified.After(files[j].Modified) })
	return files, nil
}

type QueryInput struct {
	UserID    uint
	SessionID string
	Question  string
}

// Query classifies the question, routes it to the conversational or the
// grounded pipeline, and streams the answer through onChunk. A named session
// must exist before anything is generated.
func (s *TutorService) Query(ctx context.Context, input QueryInput, onChunk func(string) error) (string, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return "", errs.New(errs.KindInvalidInput, "question is required")
	}
	target := StreamTarget{UserID: input.UserID, SessionID: strings.TrimSpace(input.SessionID)}
	if target.persistent() {
		if _, err := s.chats.GetSession(ctx, target.UserID, target.SessionID); err != nil {
			return "", err
		}
	}

	detected, err := s.classifier.Classify(ctx, question)
	if err != nil {
		return "", err
	}
	strategy := intent.Route(detected)
	slog.Info("query routed", "intent", detected, "strategy", strategy, "session_id", target.SessionID)

	gen := s.grounded
	if strategy == intent.Conversational {
		gen = s.conversational
	}
	return s.writer.Stream(ctx, target, question, gen, onChunk)
}

func (s *TutorService) Flashcards(ctx context.Context, topic string, count int) ([]pipeline.Flashcard, error) {
	return s.generator.Flashcards(ctx, topic, count)
}

func (s *TutorService) Quiz(ctx context.Context, topic string, count int, difficulty string) ([]pipeline.QuizQuestion, error) {
	return s.generator.Quiz(ctx, topic, count, difficulty)
}
