package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"tutorllm/internal/app"
	"tutorllm/internal/errs"
	"tutorllm/internal/transport/http/middleware"
	"tutorllm/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type CreateSessionRequest struct {
	Title string `json:"title" binding:"max=128"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ErrorFrom(c, errs.New(errs.KindInvalidInput, "invalid request payload"))
			return
		}
	}

	session, err := h.chatService.CreateSession(c.Request.Context(), app.CreateSessionInput{
		UserID: userID,
		Title:  req.Title,
	})
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.OK(c, session)
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	sessions, err := h.chatService.ListSessions(c.Request.Context(), userID)
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.OK(c, sessions)
}

func (h *ChatHandler) GetSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	session, err := h.chatService.GetSession(c.Request.Context(), userID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.OK(c, session)
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	sessionID := strings.TrimSpace(c.Param("id"))
	if err := h.chatService.DeleteSession(c.Request.Context(), userID, sessionID); err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.OK(c, gin.H{"deleted_session_id": sessionID})
}

// requireUser reads the authenticated user id, writing a 401 when absent.
func requireUser(c *gin.Context) (uint, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.ErrorFrom(c, errs.New(errs.KindUnauthorized, "invalid token payload"))
		return 0, false
	}
	return userID, true
}

// sseEvent frames data as one server-sent event, one data line per text line,
// so clients joining the lines with "\n" get data back unchanged.
func sseEvent(event, data string) []byte {
	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteByte('\n')
	}
	data = strings.ReplaceAll(data, "\r\n", "\n")
	data = strings.ReplaceAll(data, "\r", "\n")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return []byte(b.String())
}
