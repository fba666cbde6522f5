package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"genpipe/internal/assistant"
)

type chatResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type chatInfo struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Welcome  string `json:"welcome"`
	Endpoint string `json:"endpoint"`
	Body     string `json:"body"`
}

func (s *Server) handleChatInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, chatInfo{
		Status:   "ok",
		Message:  s.cfg.Business.AssistantName + " chat API is running",
		Welcome:  s.deps.Assistant.Welcome(),
		Endpoint: "POST /api/chat",
		Body:     `{ "message": string, "conversationHistory"?: [{ "role": "user"|"assistant", "content": string }] }`,
	})
}

func (s *Server) handleChat(c echo.Context) error {
	var req assistant.Request
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	reply := s.deps.Assistant.Respond(c.Request().Context(), c.RealIP(), req)
	return c.JSON(chatStatus(reply.Outcome), toChatResponse(reply))
}

func chatStatus(outcome assistant.Outcome) int {
	switch outcome {
	case assistant.Rejected:
		return http.StatusBadRequest
	case assistant.RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusOK
	}
}

func toChatResponse(reply assistant.Reply) chatResponse {
	if reply.OK() {
		return chatResponse{Success: true, Message: reply.Text}
	}
	return chatResponse{Success: false, Error: reply.Text}
}
