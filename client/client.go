// Package client implements the connection contract a well-behaved client
// follows: one state machine per connection, history fetched over REST after
// every (re)connect, socket pushes merged through the timeline projection.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"chat-core/domain"
	"chat-core/domain/event"
	errs "chat-core/errors"
	"chat-core/projection"
	"chat-core/transport"
)

type Config struct {
	// ServerURL is the http(s) base of the gateway, e.g. http://localhost:8080.
	ServerURL    string
	Token        string
	HistoryLimit int
}

// Client is one live connection instance. Closed is terminal: reconnecting
// means building a fresh Client and repeating join + history from scratch,
// never resurrecting this one.
type Client struct {
	log *slog.Logger
	cfg Config

	mu        sync.Mutex
	state     domain.ConnState
	ws        *websocket.Conn
	timelines map[domain.ConversationID]*projection.Timeline

	httpClient *http.Client
	frames     chan transport.ServerFrame
	done       chan struct{}
}

func New(log *slog.Logger, cfg Config) *Client {
	return &Client{
		log:        log,
		cfg:        cfg,
		state:      domain.StateConnecting,
		timelines:  make(map[domain.ConversationID]*projection.Timeline),
		httpClient: &http.Client{},
		frames:     make(chan transport.ServerFrame, 64),
		done:       make(chan struct{}),
	}
}

func (c *Client) State() domain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Frames exposes every pushed server frame, for rendering.
func (c *Client) Frames() <-chan transport.ServerFrame {
	return c.frames
}

// Connect dials the websocket endpoint and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.StateConnecting {
		c.mu.Unlock()
		return fmt.Errorf("%w: connect from state %s", errs.ErrClosed, c.state)
	}
	c.mu.Unlock()

	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		c.transition(domain.StateClosed)
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.transition(domain.StateOpen)

	go c.readLoop()
	return nil
}

// Join subscribes to a conversation and reconciles: the join frame goes out
// first so incremental pushes start flowing, then the authoritative history
// is fetched and merged by message id.
func (c *Client) Join(ctx context.Context, conversation domain.ConversationID) error {
	c.mu.Lock()
	if _, ok := c.timelines[conversation]; !ok {
		c.timelines[conversation] = projection.NewTimeline(conversation)
	}
	c.mu.Unlock()

	if err := c.send(transport.ClientFrame{
		Type:           transport.FrameJoinRoom,
		ConversationID: string(conversation),
	}); err != nil {
		return err
	}

	history, err := c.fetchHistory(ctx, conversation)
	if err != nil {
		return err
	}
	c.timeline(conversation).SeedHistory(history)
	return nil
}

func (c *Client) Leave(conversation domain.ConversationID) error {
	return c.send(transport.ClientFrame{
		Type:           transport.FrameLeaveRoom,
		ConversationID: string(conversation),
	})
}

func (c *Client) SendMessage(conversation domain.ConversationID, content string) error {
	return c.send(transport.ClientFrame{
		Type:           transport.FrameSendMessage,
		ConversationID: string(conversation),
		Content:        content,
		MessageType:    string(domain.MessageTypeText),
	})
}

func (c *Client) TypingStart(conversation domain.ConversationID) error {
	return c.send(transport.ClientFrame{
		Type:           transport.FrameTypingStart,
		ConversationID: string(conversation),
	})
}

func (c *Client) TypingStop(conversation domain.ConversationID) error {
	return c.send(transport.ClientFrame{
		Type:           transport.FrameTypingStop,
		ConversationID: string(conversation),
	})
}

func (c *Client) MarkRead(conversation domain.ConversationID, messageID string) error {
	return c.send(transport.ClientFrame{
		Type:           transport.FrameMarkRead,
		ConversationID: string(conversation),
		MessageID:      messageID,
	})
}

// Timeline returns the merged view for a joined conversation.
func (c *Client) Timeline(conversation domain.ConversationID) []domain.Message {
	tl := c.timeline(conversation)
	if tl == nil {
		return nil
	}
	return tl.Messages()
}

// Close ends the connection for good. The client cannot be reused; call
// Reconnect for a fresh instance.
func (c *Client) Close() {
	c.transition(domain.StateClosing)
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ws.Close()
	}
	c.transition(domain.StateClosed)
}

// Reconnect builds the replacement instance for a closed client. Nothing is
// carried over: registration, joins and history all happen again.
func (c *Client) Reconnect() *Client {
	return New(c.log, c.cfg)
}

func (c *Client) readLoop() {
	defer close(c.frames)
	for {
		var frame transport.ServerFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			c.log.Debug("Server connection lost", "error", err)
			c.transition(domain.StateClosed)
			return
		}
		c.apply(frame)

		select {
		case c.frames <- frame:
		default:
			c.log.Debug("Frame dropped, render queue full", "type", frame.Type)
		}
	}
}

// apply folds pushed messages into the owning timeline.
func (c *Client) apply(frame transport.ServerFrame) {
	if frame.Type != transport.FrameMessageReceived || frame.Message == nil {
		return
	}
	msg, err := transport.FromWireMessage(*frame.Message)
	if err != nil {
		c.log.Warn("Undecodable message frame", "error", err)
		return
	}
	tl := c.timeline(msg.ConversationID)
	if tl == nil {
		return
	}
	_ = tl.Consume(context.Background(), event.MessageReceived{Message: msg})
}

func (c *Client) timeline(conversation domain.ConversationID) *projection.Timeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timelines[conversation]
}

func (c *Client) send(frame transport.ClientFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.StateOpen || c.ws == nil {
		return fmt.Errorf("%w: send in state %s", errs.ErrClosed, c.state)
	}
	return c.ws.WriteJSON(frame)
}

func (c *Client) transition(next domain.ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CanTransition(next) {
		return
	}
	c.state = next
}

func (c *Client) websocketURL() (string, error) {
	parsed, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("bad server url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/ws"
	query := parsed.Query()
	query.Set("token", c.cfg.Token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (c *Client) fetchHistory(ctx context.Context, conversation domain.ConversationID) ([]domain.Message, error) {
	endpoint := fmt.Sprintf("%s/conversations/%s/messages?limit=%d",
		strings.TrimSuffix(c.cfg.ServerURL, "/"), conversation, c.cfg.HistoryLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history fetch: status %d", resp.StatusCode)
	}

	var response transport.HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, err
	}
	messages := make([]domain.Message, 0, len(response.Messages))
	for _, wire := range response.Messages {
		msg, err := transport.FromWireMessage(wire)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// OnlineUsers extracts the online members from a presence snapshot frame.
func OnlineUsers(frame transport.ServerFrame) []domain.UserID {
	return lo.FilterMap(frame.Presence, func(p transport.WirePresence, _ int) (domain.UserID, bool) {
		return domain.UserID(p.UserID), p.IsOnline
	})
}
