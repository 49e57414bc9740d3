package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"chat-core/auth"
	"chat-core/contract"
	"chat-core/delivery"
	"chat-core/domain"
	"chat-core/domain/event"
	errs "chat-core/errors"
	"chat-core/presence"
	"chat-core/runtime"
	"chat-core/typing"
)

type GatewayConfig struct {
	// ConnectionBufferSize bounds the per-connection outbound queue.
	ConnectionBufferSize int
	// PongWait is the heartbeat window: a connection with no pong inside it
	// is forcibly unregistered as if disconnected.
	PongWait time.Duration
	// PingPeriod must be below PongWait.
	PingPeriod time.Duration
	WriteWait  time.Duration
	// HistoryPageSize caps one page of the REST history endpoint.
	HistoryPageSize int
}

// Gateway terminates websocket connections and routes each decoded frame to
// the owning component. It also serves the REST history endpoint the
// reconciliation protocol reads after every (re)connect.
type Gateway struct {
	log      *slog.Logger
	cfg      GatewayConfig
	upgrader websocket.Upgrader

	auth     auth.Authenticator
	registry *runtime.Registry
	router   *runtime.Router
	pipeline *delivery.Pipeline
	typing   *typing.Coordinator
	presence *presence.Tracker
	storage  contract.Storage
	validate *validator.Validate
}

func NewGateway(
	log *slog.Logger,
	cfg GatewayConfig,
	authenticator auth.Authenticator,
	registry *runtime.Registry,
	router *runtime.Router,
	pipeline *delivery.Pipeline,
	coordinator *typing.Coordinator,
	tracker *presence.Tracker,
	storage contract.Storage,
) *Gateway {
	return &Gateway{
		log: log,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			// origin policy is enforced by the platform's edge proxy
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		auth:     authenticator,
		registry: registry,
		router:   router,
		pipeline: pipeline,
		typing:   coordinator,
		presence: tracker,
		storage:  storage,
		validate: validator.New(),
	}
}

// Handler returns the HTTP surface: the websocket endpoint plus the REST
// history read used for reconnect reconciliation.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", g.handleWS)
	mux.HandleFunc("GET /conversations/{id}/messages", g.handleHistory)
	return mux
}

func (g *Gateway) authenticate(r *http.Request) (domain.UserID, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		return "", fmt.Errorf("%w: no token", errs.ErrUnauthorized)
	}
	return g.auth.Verify(token)
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := g.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("Upgrade failed", "user_id", userID, "error", err)
		return
	}

	conn := domain.NewConnection(userID)
	sink := newWSSink(g.log, conn, ws, g.cfg.ConnectionBufferSize)

	g.registry.Register(conn, sink)
	g.log.Info("Connection opened", "user_id", userID, "connection_id", conn.ID)

	go sink.writePump(g.cfg.PingPeriod, g.cfg.WriteWait)

	g.readLoop(r.Context(), ws, conn, sink)

	// Unregister before LeaveAll: the offline flip is broadcast to room
	// mates, and they are found through the subscriptions being torn down.
	g.registry.Unregister(conn)
	g.router.LeaveAll(conn)
	sink.close()
	g.log.Info("Connection closed", "user_id", userID, "connection_id", conn.ID)
}

func (g *Gateway) readLoop(ctx context.Context, ws *websocket.Conn, conn *domain.Connection, sink *wsSink) {
	_ = ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	for {
		var frame ClientFrame
		if err := ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.Debug("Read loop ended", "connection_id", conn.ID, "error", err)
			}
			return
		}
		g.dispatch(ctx, conn, sink, frame)
	}
}

// dispatch routes one decoded client frame. Errors the client can act on are
// pushed back as delivery_error events; everything else is logged.
func (g *Gateway) dispatch(ctx context.Context, conn *domain.Connection, sink *wsSink, frame ClientFrame) {
	conversation := domain.ConversationID(frame.ConversationID)

	if err := g.validate.Struct(frame); err != nil {
		g.pushError(ctx, sink, conversation, fmt.Errorf("%w: %v", errs.ErrInvalidPayload, err))
		return
	}

	switch frame.Type {
	case FrameJoinRoom:
		if err := g.router.Join(ctx, conn, sink, conversation); err != nil {
			g.pushError(ctx, sink, conversation, err)
			return
		}
		g.presence.AnnounceJoin(ctx, conversation, conn.User)
		g.pushSnapshot(ctx, sink, conversation)

	case FrameLeaveRoom:
		g.router.Leave(conn, conversation)

	case FrameSendMessage:
		ack, err := g.pipeline.Submit(ctx, conn, conversation, frame.payload())
		if err != nil {
			g.pushError(ctx, sink, conversation, err)
			return
		}
		g.push(ctx, sink, event.MessageAck{
			Conversation: conversation,
			MessageID:    ack.ID,
			CreatedAt:    ack.CreatedAt,
		})

	case FrameTypingStart:
		g.typing.Start(ctx, conversation, conn.User)

	case FrameTypingStop:
		g.typing.Stop(ctx, conversation, conn.User)

	case FrameMarkRead:
		g.handleMarkRead(ctx, conn, sink, conversation, frame.MessageID)
	}
}

func (g *Gateway) handleMarkRead(ctx context.Context, conn *domain.Connection, sink *wsSink, conversation domain.ConversationID, messageID string) {
	parsed, err := uuid.Parse(messageID)
	if err != nil {
		g.pushError(ctx, sink, conversation, fmt.Errorf("%w: bad message id", errs.ErrInvalidPayload))
		return
	}
	ok, err := g.storage.IsParticipant(ctx, conversation, conn.User)
	if err != nil || !ok {
		g.pushError(ctx, sink, conversation, fmt.Errorf("user %s on conversation %s: %w", conn.User, conversation, errs.ErrForbidden))
		return
	}
	if err := g.storage.MarkRead(ctx, conversation, conn.User, parsed); err != nil {
		g.pushError(ctx, sink, conversation, fmt.Errorf("%w: %v", errs.ErrDeliveryFailed, err))
		return
	}
	// read receipts fan out per event; clients aggregate
	g.router.RouteToRoom(ctx, conversation, event.MessageRead{
		Conversation: conversation,
		Reader:       conn.User,
		MessageID:    parsed,
		At:           time.Now().UTC(),
	})
}

// pushSnapshot gives a freshly joined connection the current presence of
// every participant, for its initial render.
func (g *Gateway) pushSnapshot(ctx context.Context, sink *wsSink, conversation domain.ConversationID) {
	participants, err := g.storage.ListParticipants(ctx, conversation)
	if err != nil {
		g.log.Warn("Snapshot unavailable", "conversation_id", conversation, "error", err)
		return
	}
	states := g.presence.Snapshot(participants)

	frame := ServerFrame{
		Type:           FramePresenceSnapshot,
		ConversationID: string(conversation),
		Presence: lo.Map(participants, func(u domain.UserID, _ int) WirePresence {
			state := states[u]
			wire := WirePresence{UserID: string(u), IsOnline: state.Online}
			if !state.LastSeen.IsZero() {
				wire.LastSeen = lo.ToPtr(state.LastSeen)
			}
			return wire
		}),
	}
	if err := sink.Consume(ctx, rawFrame{frame}); err != nil {
		g.log.Warn("Snapshot push failed", "conversation_id", conversation, "error", err)
	}
}

func (g *Gateway) push(ctx context.Context, sink *wsSink, e event.ServerEvent) {
	if err := sink.Consume(ctx, e); err != nil {
		g.log.Warn("Push to sender failed", "connection_id", sink.conn.ID, "error", err)
	}
}

func (g *Gateway) pushError(ctx context.Context, sink *wsSink, conversation domain.ConversationID, err error) {
	g.log.Warn("Client request rejected",
		"connection_id", sink.conn.ID, "conversation_id", conversation, "error", err)
	g.push(ctx, sink, event.DeliveryError{
		Conversation: conversation,
		Reason:       errs.WireReason(err),
	})
}

// handleHistory serves the authoritative paginated history read, newest
// first. Socket delivery is never the sole source of truth: clients call
// this after every (re)connect and merge by message id.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := g.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conversation := domain.ConversationID(r.PathValue("id"))

	ok, err := g.storage.IsParticipant(r.Context(), conversation, userID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var cursor *string
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		cursor = &raw
	}
	limit := g.cfg.HistoryPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = min(parsed, g.cfg.HistoryPageSize)
	}

	messages, next, err := g.storage.FetchHistory(r.Context(), conversation, cursor, limit)
	if err != nil {
		g.log.Error("History fetch failed", "conversation_id", conversation, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	response := HistoryResponse{
		Messages: lo.Map(messages, func(m domain.Message, _ int) WireMessage { return *toWireMessage(m) }),
		Cursor:   next,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

type HistoryResponse struct {
	Messages []WireMessage `json:"messages"`
	Cursor   *string       `json:"cursor,omitempty"`
}

// rawFrame lets the gateway push a pre-built frame through the sink without
// a dedicated event type.
type rawFrame struct {
	frame ServerFrame
}

func (r rawFrame) Kind() event.Kind { return event.Kind(r.frame.Type) }
