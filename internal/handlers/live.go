package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pollcast/pollcast/internal/lib/sl"
	"github.com/pollcast/pollcast/internal/repo"
	"github.com/pollcast/pollcast/internal/services"
	"github.com/pollcast/pollcast/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS layer in front.
		return true
	},
}

type connectionEstablished struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// LiveHandler upgrades results-viewing connections and ties their
// lifetime to the subscription registry.
type LiveHandler struct {
	log           *slog.Logger
	votingService *services.Voting
	hub           *ws.Hub
}

func NewLiveHandler(log *slog.Logger, votingService *services.Voting, hub *ws.Hub) *LiveHandler {
	return &LiveHandler{log: log, votingService: votingService, hub: hub}
}

// Subscribe joins the connection to the poll's group, acknowledges, and
// blocks until the peer disconnects, at which point the subscription is
// released promptly.
func (h *LiveHandler) Subscribe(c *gin.Context) {
	const op = "handlers.LiveHandler.Subscribe"

	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid poll id"})
		return
	}

	if _, _, err := h.votingService.GetPollByID(c.Request.Context(), pollID); err != nil {
		if errors.Is(err, repo.ErrPollNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "poll not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("op", op), sl.Err(err))
		return
	}

	client := ws.NewClient(conn)
	h.hub.Join(pollID, client)

	welcome, _ := json.Marshal(connectionEstablished{
		Type:    "connection_established",
		Message: fmt.Sprintf("connected to poll %s", pollID),
	})
	h.hub.Send(pollID, client, welcome)

	go client.WritePump(h.log)

	client.ReadPump()
	h.hub.Leave(pollID, client)
}
