package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"genpipe/internal/assistant"
	"genpipe/internal/models"
)

// maxSocketHistory bounds the turns kept per connection; the assistant only forwards the tail anyway.
const maxSocketHistory = 20

type socketIncoming struct {
	Message string `json:"message"`
}

type socketOutgoing struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.origins[origin]
}

// handleChatSocket keeps the conversation history server side for the lifetime of the connection.
func (s *Server) handleChatSocket(c echo.Context) error {
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return nil
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	logger := s.logger.With("session_id", sessionID)
	logger.Info("websocket connected", "remote_ip", c.RealIP())

	if err := conn.WriteJSON(socketOutgoing{Type: "connected", SessionID: sessionID, Message: s.deps.Assistant.Welcome()}); err != nil {
		logger.Warn("websocket write failed", "error", err)
		return nil
	}

	ctx := c.Request().Context()
	callerID := c.RealIP()
	var history []models.Message

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			}
			break
		}

		var in socketIncoming
		if err := json.Unmarshal(raw, &in); err != nil {
			if err := conn.WriteJSON(socketOutgoing{Type: "error", Error: "Invalid message format. Send JSON with a \"message\" field."}); err != nil {
				break
			}
			continue
		}

		reply := s.deps.Assistant.Respond(ctx, callerID, assistant.Request{Message: in.Message, History: history})
		out := socketOutgoing{Type: "message", Message: reply.Text}
		if reply.OK() {
			history = appendTurn(history, in.Message, reply.Text)
		} else {
			out = socketOutgoing{Type: "error", Error: reply.Text}
		}

		if err := conn.WriteJSON(out); err != nil {
			logger.Warn("websocket write failed", "error", err)
			break
		}
	}

	logger.Info("websocket disconnected")
	return nil
}

func appendTurn(history []models.Message, user, reply string) []models.Message {
	history = append(history,
		models.Message{Role: models.RoleUser, Content: user},
		models.Message{Role: models.RoleAssistant, Content: reply},
	)
	if len(history) > maxSocketHistory {
		history = history[len(history)-maxSocketHistory:]
	}
	return history
}
