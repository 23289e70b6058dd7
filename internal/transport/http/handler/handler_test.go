package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorllm/internal/app"
	"tutorllm/internal/chunker"
	"tutorllm/internal/errs"
	"tutorllm/internal/intent"
	"tutorllm/internal/model"
	"tutorllm/internal/pipeline"
	"tutorllm/internal/transport/http/middleware"
)

type sessionMap struct {
	mu       sync.Mutex
	sessions map[string]*model.ChatSession
}

func (m *sessionMap) Create(_ context.Context, s *model.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *sessionMap) ListByUserID(_ context.Context, userID uint) ([]model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ChatSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *sessionMap) GetByIDAndUserID(_ context.Context, id string, userID uint) (*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return nil, nil
	}
	cp := *s
	cp.Messages = append([]model.ChatMessage(nil), s.Messages...)
	return &cp, nil
}

func (m *sessionMap) AppendMessage(_ context.Context, sessionID string, userID uint, msg *model.ChatMessage) (*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, nil
	}
	s.Apply(msg)
	s.Messages = append(s.Messages, *msg)
	cp := *s
	return &cp, nil
}

func (m *sessionMap) DeleteByIDAndUserID(_ context.Context, id string, userID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return false, nil
	}
	delete(m.sessions, id)
	return true, nil
}

type nopIndexer struct{}

func (nopIndexer) Insert(_ context.Context, chunks []model.Chunk) (int, error) {
	return len(chunks), nil
}

type constClassifier intent.Intent

func (c constClassifier) Classify(context.Context, string) (intent.Intent, error) {
	return intent.Intent(c), nil
}

type cannedGenerator struct{}

func (cannedGenerator) Flashcards(_ context.Context, topic string, count int) ([]pipeline.Flashcard, error) {
	if count > pipeline.MaxArtifactCount {
		return nil, errs.New(errs.KindInvalidInput, "count too large")
	}
	return []pipeline.Flashcard{{Question: "What is " + topic + "?", Answer: "A process."}}, nil
}

func (cannedGenerator) Quiz(context.Context, string, int, string) ([]pipeline.QuizQuestion, error) {
	return nil, errs.New(errs.KindSchemaValidation, "quiz failed validation after 3 attempts")
}

func fragments(parts []string, failure error) pipeline.StreamFunc {
	return func(_ context.Context, _ string, emit func(string) error) (string, error) {
		var sb strings.Builder
		for _, p := range parts {
			if err := emit(p); err != nil {
				return sb.String(), err
			}
			sb.WriteString(p)
		}
		return sb.String(), failure
	}
}

type fixture struct {
	router *gin.Engine
	chats  *app.ChatService
}

func newFixture(t *testing.T, gen pipeline.StreamFunc) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	splitter, err := chunker.New(1000, 200)
	require.NoError(t, err)
	chats := app.NewChatService(&sessionMap{sessions: map[string]*model.ChatSession{}}, nil, nil)
	tutor := app.NewTutorService(app.TutorDeps{
		Splitter:       splitter,
		Indexer:        nopIndexer{},
		Classifier:     constClassifier(intent.General),
		Conversational: gen,
		Grounded:       gen,
		Generator:      cannedGenerator{},
		Writer:         app.NewStreamWriter(chats, time.Second),
		Chats:          chats,
		UploadsDir:     t.TempDir(),
	})

	router := gin.New()
	authed := router.Group("", func(c *gin.Context) {
		if c.GetHeader("X-Test-User") != "" {
			c.Set(middleware.ContextUserIDKey, uint(7))
		}
		c.Next()
	})
	study := NewStudyHandler(tutor, 1<<20)
	chat := NewChatHandler(chats)
	authed.POST("/documents", study.Upload)
	authed.GET("/documents", study.ListDocuments)
	authed.POST("/query", study.Query)
	authed.POST("/flashcards", study.Flashcards)
	authed.POST("/quizzes", study.Quiz)
	authed.POST("/chats", chat.CreateSession)
	authed.GET("/chats", chat.ListSessions)
	authed.GET("/chats/:id", chat.GetSession)
	authed.DELETE("/chats/:id", chat.DeleteSession)
	return &fixture{router: router, chats: chats}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", "7")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Code    int             `json:"code"`
	Kind    errs.Kind       `json:"kind"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestQuery_StreamsFragmentsThenDone(t *testing.T) {
	f := newFixture(t, fragments([]string{"Photo", "synthesis\nuses light."}, nil))

	rec := f.do(http.MethodPost, "/query", `{"question":"what is photosynthesis"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "data: Photo\n\n")
	assert.Contains(t, body, "data: synthesis\ndata: uses light.\n\n")
	assert.True(t, strings.HasSuffix(body, "event: done\ndata: Photosynthesis\ndata: uses light.\n\n"), body)
}

func TestQuery_RecordsExchangeInSession(t *testing.T) {
	f := newFixture(t, fragments([]string{"answer"}, nil))
	created := decode(t, f.do(http.MethodPost, "/chats", `{}`))
	var session model.ChatSession
	require.NoError(t, json.Unmarshal(created.Data, &session))

	rec := f.do(http.MethodPost, "/query", `{"question":"q","session_id":"`+session.ID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode(t, f.do(http.MethodGet, "/chats/"+session.ID, ""))
	var full model.ChatSession
	require.NoError(t, json.Unmarshal(got.Data, &full))
	require.Len(t, full.Messages, 2)
	assert.Equal(t, model.RoleUser, full.Messages[0].Role)
	assert.Equal(t, "answer", full.Messages[1].Content)
}

func TestQuery_UnknownSessionIsJSONNotFound(t *testing.T) {
	f := newFixture(t, fragments([]string{"never"}, nil))
	rec := f.do(http.MethodPost, "/query", `{"question":"q","session_id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errs.KindSessionNotFound, decode(t, rec).Kind)
}

func TestQuery_MidStreamFailureEmitsErrorEvent(t *testing.T) {
	f := newFixture(t, fragments([]string{"partial"}, errs.Wrap(errs.KindGenerationUnavailable, "chat stream failed", errors.New("eof"))))
	rec := f.do(http.MethodPost, "/query", `{"question":"q"}`)
	body := rec.Body.String()
	assert.Contains(t, body, "data: partial\n\n")
	assert.Contains(t, body, "event: error\ndata: ")
	assert.Contains(t, body, `"kind":"GenerationUnavailable"`)
	assert.NotContains(t, body, "event: done")
}

func TestQuery_MissingQuestion(t *testing.T) {
	f := newFixture(t, fragments(nil, nil))
	rec := f.do(http.MethodPost, "/query", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errs.KindInvalidInput, decode(t, rec).Kind)
}

func TestQuery_RequiresUser(t *testing.T) {
	f := newFixture(t, fragments(nil, nil))
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"question":"q"}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFlashcardsAndQuiz(t *testing.T) {
	f := newFixture(t, fragments(nil, nil))

	rec := f.do(http.MethodPost, "/flashcards", `{"topic":"osmosis"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var data struct {
		Topic      string               `json:"topic"`
		Flashcards []pipeline.Flashcard `json:"flashcards"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
	assert.Equal(t, "osmosis", data.Topic)
	require.Len(t, data.Flashcards, 1)

	rec = f.do(http.MethodPost, "/flashcards", `{"topic":"osmosis","count":500}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/quizzes", `{"topic":"osmosis"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, errs.KindSchemaValidation, decode(t, rec).Kind)
}

func TestChatLifecycle(t *testing.T) {
	f := newFixture(t, fragments(nil, nil))

	created := decode(t, f.do(http.MethodPost, "/chats", `{"title":"Biology"}`))
	var session model.ChatSession
	require.NoError(t, json.Unmarshal(created.Data, &session))
	assert.Equal(t, "Biology", session.Title)

	rec := f.do(http.MethodGet, "/chats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []model.ChatSummary
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &summaries))
	require.Len(t, summaries, 1)

	rec = f.do(http.MethodDelete, "/chats/"+session.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/chats/"+session.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errs.KindSessionNotFound, decode(t, rec).Kind)
}

func TestUploadAndList(t *testing.T) {
	f := newFixture(t, fragments(nil, nil))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("Mitochondria produce ATP."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result app.IngestResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &result))
	assert.Equal(t, "notes.txt", result.Filename)
	assert.Equal(t, 1, result.Chunks)

	rec = f.do(http.MethodGet, "/documents", "")
	var files []app.FileInfo
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &files))
	require.Len(t, files, 1)
	assert.Equal(t, "notes.txt", files[0].Name)
}

func TestUpload_UnsupportedType(t *testing.T) {
	f := newFixture(t, fragments(nil, nil))
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "virus.exe")
	require.NoError(t, err)
	_, _ = part.Write([]byte("MZ"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errs.KindIngestion, decode(t, rec).Kind)
}

func TestHealth_FailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHealthHandler("tutorllm", "test", time.Now(), map[string]Check{
		"mysql": func(context.Context) error { return nil },
		"model": func(context.Context) error { return errors.New("connection refused") },
	})
	router := gin.New()
	router.GET("/healthz", h.Check)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Dependencies map[string]dependencyStatus `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Dependencies["mysql"].OK)
	assert.Equal(t, "connection refused", body.Dependencies["model"].Message)
}

// readSSEData joins the data lines of one event the way an EventSource does.
func readSSEData(frame string) string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSuffix(frame, "\n\n"), "\n") {
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			lines = append(lines, strings.TrimPrefix(v, " "))
		}
	}
	return strings.Join(lines, "\n")
}

func TestSSEEvent_RoundTrips(t *testing.T) {
	cases := map[string]string{
		"plain":            "Photosynthesis",
		"newlines":         "a\nb\n\nc",
		"literal escape":   `uses \n in a string`,
		"leading space":    " is",
		"trailing newline": "end\n",
		"empty":            "",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, data, readSSEData(string(sseEvent("", data))))
		})
	}
	assert.Equal(t, "a\nb", readSSEData(string(sseEvent("", "a\r\nb"))))
	assert.Equal(t, "event: done\ndata: x\n\n", string(sseEvent("done", "x")))
}
