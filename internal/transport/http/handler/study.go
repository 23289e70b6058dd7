package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"tutorllm/internal/app"
	"tutorllm/internal/errs"
	"tutorllm/internal/pipeline"
	"tutorllm/internal/transport/http/response"
)

type StudyHandler struct {
	tutor          *app.TutorService
	maxUploadBytes int64
}

type QueryRequest struct {
	Question  string `json:"question" binding:"required"`
	SessionID string `json:"session_id"`
}

type FlashcardsRequest struct {
	Topic string `json:"topic" binding:"required"`
	Count int    `json:"count"`
}

type QuizRequest struct {
	Topic      string `json:"topic" binding:"required"`
	Count      int    `json:"count"`
	Difficulty string `json:"difficulty"`
}

func NewStudyHandler(tutor *app.TutorService, maxUploadBytes int64) *StudyHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 << 20
	}
	return &StudyHandler{tutor: tutor, maxUploadBytes: maxUploadBytes}
}

// Upload ingests the multipart "file" field.
func (h *StudyHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.ErrorFrom(c, errs.New(errs.KindIngestion, "missing file"))
		return
	}
	if file.Size > h.maxUploadBytes {
		response.ErrorFrom(c, errs.New(errs.KindIngestion, fmt.Sprintf("file too large (max %d MB)", h.maxUploadBytes>>20)))
		return
	}

	f, err := file.Open()
	if err != nil {
		response.ErrorFrom(c, fmt.Errorf("open upload failed: %w", err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		response.ErrorFrom(c, fmt.Errorf("read upload failed: %w", err))
		return
	}

	result, err := h.tutor.Ingest(c.Request.Context(), file.Filename, data)
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.OK(c, result)
}

func (h *StudyHandler) ListDocuments(c *gin.Context) {
	files, err := h.tutor.ListFiles()
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.OK(c, files)
}

// Query streams the answer as server-sent events. Failures before the
// first fragment are reported as a JSON envelope; later ones as an error
// event carrying the kind.
func (h *StudyHandler) Query(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorFrom(c, errs.New(errs.KindInvalidInput, "invalid request payload"))
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.ErrorFrom(c, fmt.Errorf("stream not supported"))
		return
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
	}

	full, err := h.tutor.Query(c.Request.Context(), app.QueryInput{
		UserID:    userID,
		SessionID: req.SessionID,
		Question:  req.Question,
	}, func(chunk string) error {
		start()
		if _, writeErr := c.Writer.Write(sseEvent("", chunk)); writeErr != nil {
			return writeErr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if !started {
			response.ErrorFrom(c, err)
			return
		}
		payload, _ := json.Marshal(gin.H{"kind": errs.KindOf(err), "message": errs.Message(err)})
		if _, writeErr := c.Writer.Write(sseEvent("error", string(payload))); writeErr == nil {
			flusher.Flush()
		}
		return
	}

	start()
	if _, writeErr := c.Writer.Write(sseEvent("done", full)); writeErr == nil {
		flusher.Flush()
	}
}

func (h *StudyHandler) Flashcards(c *gin.Context) {
	var req FlashcardsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorFrom(c, errs.New(errs.KindInvalidInput, "invalid request payload"))
		return
	}
	cards, err := h.tutor.Flashcards(c.Request.Context(), req.Topic, req.Count)
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.OK(c, gin.H{"topic": req.Topic, "flashcards": cards})
}

func (h *StudyHandler) Quiz(c *gin.Context) {
	var req QuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorFrom(c, errs.New(errs.KindInvalidInput, "invalid request payload"))
		return
	}
	if req.Difficulty == "" {
		req.Difficulty = pipeline.DefaultDifficulty
	}

	questions, err := h.tutor.Quiz(c.Request.Context(), req.Topic, req.Count, req.Difficulty)
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.OK(c, gin.H{"topic": req.Topic, "difficulty": req.Difficulty, "questions": questions})
}
