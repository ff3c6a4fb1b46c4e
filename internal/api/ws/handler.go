package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/substratehq/playground/internal/engine"
	"github.com/substratehq/playground/internal/events"
	"github.com/substratehq/playground/internal/infrastructure/logging"
	"github.com/substratehq/playground/internal/infrastructure/monitoring"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // The editor frontend runs on a different dev port.
	},
}

// forwarded lists the bus events bridged to WebSocket clients.
var forwarded = []events.Event{
	events.StatusChange,
	events.FileChange,
	events.FilesUpdate,
	events.PreviewReady,
	events.ConsoleMessage,
	events.ProcessOutput,
	events.Error,
}

// Handler bridges the event bus to WebSocket connections: every bus event
// is forwarded as a {type, payload} frame.
type Handler struct {
	bus     *events.Bus
	engine  *engine.Engine
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(bus *events.Bus, eng *engine.Engine, metrics *monitoring.Metrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		bus:     bus,
		engine:  eng,
		metrics: metrics,
		logger:  logger.Named("ws"),
	}
}

type frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// HandleConnection upgrades the request and streams bus events until the
// client disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
		defer h.metrics.WSConnections.Dec()
	}

	// Gorilla connections allow one concurrent writer.
	var writeMu sync.Mutex
	send := func(f frame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(f); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
		}
	}

	send(frame{Type: "connected", Payload: gin.H{
		"status":      h.engine.Status(),
		"preview_url": h.engine.PreviewURL(),
	}})

	unsubs := make([]func(), 0, len(forwarded))
	for _, event := range forwarded {
		event := event
		unsubs = append(unsubs, h.bus.On(event, func(payload interface{}) {
			if err, ok := payload.(error); ok {
				payload = err.Error()
			}
			send(frame{Type: string(event), Payload: payload})
		}))
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	h.readLoop(conn, send)
}

// readLoop processes client frames until the connection drops.
func (h *Handler) readLoop(conn *websocket.Conn, send func(frame)) {
	for {
		var msg struct {
			Type       string   `json:"type"`
			OpenTabs   []string `json:"openTabs"`
			ActiveFile string   `json:"activeFile"`
			Path       string   `json:"path"`
			Content    string   `json:"content"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "ping":
			send(frame{Type: "pong"})

		case "editor_state":
			h.engine.SetEditorState(msg.OpenTabs, msg.ActiveFile)

		case "write_file":
			if err := h.engine.WriteFile(msg.Path, msg.Content); err != nil {
				send(frame{Type: string(events.Error), Payload: err.Error()})
			}

		default:
			send(frame{Type: string(events.Error), Payload: "unknown message type: " + msg.Type})
		}
	}
}
