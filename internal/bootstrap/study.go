package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	appsvc "tutorllm/internal/app"
	"tutorllm/internal/ai"
	"tutorllm/internal/chunker"
	"tutorllm/internal/config"
	"tutorllm/internal/intent"
	"tutorllm/internal/pipeline"
	sqliteClient "tutorllm/internal/platform/sqlite"
	"tutorllm/internal/retrieval"
)

// Study holds the document and answering components. It needs no
// relational store, so the CLI runs on it alone.
type Study struct {
	LLM       *ai.OpenAICompatibleClient
	Gateway   *retrieval.Gateway
	IndexDB   *sql.DB
	Generator *pipeline.Generator
	Tutor     *appsvc.TutorService
	deps      appsvc.TutorDeps
}

func NewStudy(ctx context.Context, cfg *config.Config) (*Study, error) {
	llm := ai.NewOpenAICompatibleClient(ai.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		ChatModel:      cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Timeout:        time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		Retry: ai.RetryPolicy{
			MaxAttempts: cfg.LLM.MaxAttempts,
			BaseDelay:   time.Duration(cfg.LLM.RetryBaseMillis) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.LLM.RetryMaxMillis) * time.Millisecond,
		},
	})

	s := &Study{LLM: llm}

	var index retrieval.Index
	switch cfg.Retrieval.Backend {
	case config.BackendQdrant:
		index = retrieval.NewQdrantIndex(retrieval.QdrantConfig{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSeconds) * time.Second,
		})
	default:
		db, err := sqliteClient.New(ctx, cfg.Retrieval.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.IndexDB = db
		index = retrieval.NewSQLiteIndex(db)
	}

	embedder := retrieval.NewEmbedder(llm, cfg.Retrieval.EmbedBatchSize, cfg.Retrieval.EmbedConcurrency)
	s.Gateway = retrieval.NewGateway(embedder, index)

	splitter, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("build chunker failed: %w", err)
	}

	classifierModel := cfg.LLM.ClassifierModel
	if classifierModel == "" {
		classifierModel = cfg.LLM.Model
	}
	conversational := pipeline.Conversational(llm, ai.CompletionOptions{})
	s.Generator = pipeline.NewGenerator(llm, s.Gateway, pipeline.GeneratorConfig{
		TopK:       cfg.Retrieval.TopK,
		MaxRepairs: cfg.Generation.MaxRepairs,
	})

	s.deps = appsvc.TutorDeps{
		Splitter:       splitter,
		Indexer:        s.Gateway,
		Classifier:     intent.NewClassifier(llm, classifierModel),
		Conversational: conversational,
		Grounded:       pipeline.Grounded(llm, s.Gateway, cfg.Retrieval.TopK, ai.CompletionOptions{}, conversational),
		Generator:      s.Generator,
		Writer:         appsvc.NewStreamWriter(nil, 0),
		UploadsDir:     cfg.Storage.UploadsDir,
	}
	s.Tutor = appsvc.NewTutorService(s.deps)
	return s, nil
}

// bindChats rebuilds the tutor service so answers are recorded in chats.
func (s *Study) bindChats(chats *appsvc.ChatService, persistTimeout time.Duration) {
	s.deps.Chats = chats
	s.deps.Writer = appsvc.NewStreamWriter(chats, persistTimeout)
	s.Tutor = appsvc.NewTutorService(s.deps)
}

func (s *Study) Close() error {
	if s.IndexDB != nil {
		return s.IndexDB.Close()
	}
	return nil
}
