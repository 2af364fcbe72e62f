package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tritex/internal/events"
	"tritex/internal/venue"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// pricePushInterval drives the per-client subscribe_prices stream and the
// synthetic DEX ticker.
const pricePushInterval = 5 * time.Second

// WSClient is one connected socket.
type WSClient struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *WSHub
	userID string // empty until an auth message arrives

	mu         sync.Mutex
	stopPrices chan struct{}
}

// WSHub tracks connected sockets and fans out events.
type WSHub struct {
	clients     map[*WSClient]bool
	userClients map[string][]*WSClient
	broadcast   chan []byte
	register    chan *WSClient
	unregister  chan *WSClient
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// NewWSHub creates an empty hub.
func NewWSHub(logger zerolog.Logger) *WSHub {
	return &WSHub{
		clients:     make(map[*WSClient]bool),
		userClients: make(map[string][]*WSClient),
		broadcast:   make(chan []byte, 4096),
		register:    make(chan *WSClient),
		unregister:  make(chan *WSClient),
		logger:      logger.With().Str("component", "ws").Logger(),
	}
}

// Run owns the client set; mutation happens only on connect and close.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if client.userID != "" {
				h.userClients[client.userID] = append(h.userClients[client.userID], client)
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.dropUserClient(client)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client; drop it on the next cycle.
					go func(c *WSClient) { h.unregister <- c }(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// authenticate binds a socket to a principal. Re-auth as the same user is a
// no-op so a socket never holds two userClients entries; re-auth as another
// user moves the binding.
func (h *WSHub) authenticate(client *WSClient, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.userID == userID {
		return
	}
	h.dropUserClient(client)
	client.userID = userID
	h.userClients[userID] = append(h.userClients[userID], client)
}

func (h *WSHub) dropUserClient(client *WSClient) {
	if client.userID == "" {
		return
	}
	list := h.userClients[client.userID]
	for i, c := range list {
		if c == client {
			h.userClients[client.userID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(h.userClients[client.userID]) == 0 {
		delete(h.userClients, client.userID)
	}
}

// Broadcast sends an event to every client.
func (h *WSHub) Broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal event")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn().Msg("broadcast channel full, dropping message")
	}
}

// SendToUser sends an event only to the owning principal's sockets.
func (h *WSHub) SendToUser(userID string, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.userClients[userID] {
		select {
		case client.send <- data:
		default:
		}
	}
}

// ClientCount returns the number of connected sockets.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// bridgeEvents forwards bus events onto the socket layer: private events go
// only to their owner.
func (s *Server) bridgeEvents() {
	s.gateway.Bus().SubscribeAll(func(e events.Event) {
		if e.Private() {
			s.hub.SendToUser(e.UserID, e)
			return
		}
		s.hub.Broadcast(e)
	})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  s.hub,
	}
	// A token on the upgrade request authenticates immediately.
	if token := c.Query("token"); token != "" {
		if claims, err := s.jwt.Validate(token); err == nil {
			client.userID = claims.UserID
		}
	}
	s.hub.register <- client

	client.sendJSON(map[string]interface{}{
		"type":          "connected",
		"authenticated": client.userID != "",
	})

	go client.writePump()
	go s.readPump(client)
}

func (c *WSClient) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

type wsMessage struct {
	Type     string `json:"type"`
	Token    string `json:"token"`
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

func (s *Server) readPump(client *WSClient) {
	defer func() {
		client.stopPricePush()
		s.hub.unregister <- client
	}()
	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			client.sendJSON(map[string]interface{}{"type": "error", "message": "invalid message"})
			continue
		}
		s.handleWSMessage(client, msg)
	}
}

func (s *Server) handleWSMessage(client *WSClient, msg wsMessage) {
	switch msg.Type {
	case "auth":
		claims, err := s.jwt.Validate(msg.Token)
		if err != nil {
			client.sendJSON(map[string]interface{}{"type": "auth", "authenticated": false})
			return
		}
		s.hub.authenticate(client, claims.UserID)
		client.sendJSON(map[string]interface{}{"type": "auth", "authenticated": true})

	case "subscribe_prices":
		s.startPricePush(client)

	case "analyze":
		name, err := venue.ParseName(msg.Exchange)
		if err != nil {
			client.sendJSON(map[string]interface{}{"type": "error", "message": err.Error()})
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			result, err := s.gateway.Analyze(ctx, client.userID, name, msg.Symbol,
				msg.Interval, s.cfg.AutoTrade.CandleCount)
			if err != nil {
				client.sendJSON(map[string]interface{}{"type": "error", "message": err.Error()})
				return
			}
			client.sendJSON(map[string]interface{}{"type": "analysis", "data": result})
		}()

	default:
		client.sendJSON(map[string]interface{}{"type": "error", "message": "unknown message type"})
	}
}

// startPricePush begins the client's private 5s price stream; it stops on
// socket close.
func (s *Server) startPricePush(client *WSClient) {
	client.mu.Lock()
	if client.stopPrices != nil {
		client.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	client.stopPrices = stop
	client.mu.Unlock()

	go func() {
		ticker := time.NewTicker(pricePushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				client.sendJSON(map[string]interface{}{
					"type":  "prices",
					"pools": s.gateway.Engine().Pools(),
				})
			}
		}
	}()
}

func (c *WSClient) stopPricePush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopPrices != nil {
		close(c.stopPrices)
		c.stopPrices = nil
	}
}

// RunDexTicker drives the synthetic DEX print: every 5s it appends pool
// price history and publishes a dex_update.
func (s *Server) RunDexTicker(ctx context.Context) {
	ticker := time.NewTicker(pricePushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.gateway.Engine().RecordPrices()
			pools := s.gateway.Engine().Pools()
			summary := make([]map[string]interface{}, 0, len(pools))
			for _, p := range pools {
				summary = append(summary, map[string]interface{}{
					"poolId": p.ID,
					"price":  p.PriceAinB(),
					"volume": p.Volume24h,
				})
			}
			s.gateway.Bus().Publish(events.TypeDexUpdate, "", map[string]interface{}{
				"pools": summary,
			})
		}
	}
}
