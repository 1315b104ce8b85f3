package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Client represents a WebSocket client
type Client struct {
	ID       uint
	UserType string
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *Hub
}

// Hub maintains the set of active clients and delivers booking events to
// the party that did not perform the action.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			log.Printf("Client %d connected", client.ID)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mutex.Unlock()
			log.Printf("Client %d disconnected", client.ID)
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// BroadcastToUser sends a message to a specific user. Holds the write lock:
// a client that cannot keep up is evicted right here, which mutates the
// client map.
func (h *Hub) BroadcastToUser(userID uint, message []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		if client.ID == userID {
			select {
			case client.Send <- message:
			default:
				close(client.Send)
				delete(h.clients, client)
			}
		}
	}
}

// GetConnectedClients returns the number of connected clients
func (h *Hub) GetConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// WebSocket message types
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// BookingAccepted notifies the customer that a pilot took the booking
type BookingAccepted struct {
	BookingID string `json:"bookingId"`
	PilotID   uint   `json:"pilotId"`
	PilotName string `json:"pilotName"`
	PilotRank int    `json:"pilotRank"`
}

// BookingCancelled notifies the counterparty of a cancellation
type BookingCancelled struct {
	BookingID   string `json:"bookingId"`
	CancelledBy string `json:"cancelledBy"`
}

// BookingCompleted notifies a party that both sides confirmed completion
type BookingCompleted struct {
	BookingID   string `json:"bookingId"`
	AmountCents int64  `json:"amountCents"`
}

// CompletionConfirmed notifies the counterparty that one side confirmed
type CompletionConfirmed struct {
	BookingID string `json:"bookingId"`
	Role      string `json:"role"`
}

// TipAdded notifies the pilot of a tip
type TipAdded struct {
	BookingID string `json:"bookingId"`
	TipCents  int64  `json:"tipCents"`
}

// HandleWebSocket handles WebSocket connections
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, userID uint, userType string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		ID:       userID,
		UserType: userType,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		Hub:      hub,
	}

	client.Hub.Register(client)

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump()
}

// readPump drains the connection so pings and closes are processed; all
// mutations come through the HTTP API, never the socket.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("WebSocket write error: %v", err)
			return
		}
	}
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (h *Hub) send(userID uint, msgType string, data interface{}) {
	message := WebSocketMessage{Type: msgType, Data: data}
	payload, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling %s message: %v", msgType, err)
		return
	}
	h.BroadcastToUser(userID, payload)
}

// SendBookingAccepted notifies the customer of acceptance
func (h *Hub) SendBookingAccepted(customerID uint, accepted BookingAccepted) {
	h.send(customerID, "booking_accepted", accepted)
}

// SendBookingCancelled notifies the counterparty of cancellation
func (h *Hub) SendBookingCancelled(userID uint, cancelled BookingCancelled) {
	h.send(userID, "booking_cancelled", cancelled)
}

// SendCompletionConfirmed notifies the counterparty that one side marked
// the flight complete
func (h *Hub) SendCompletionConfirmed(userID uint, confirmed CompletionConfirmed) {
	h.send(userID, "completion_confirmed", confirmed)
}

// SendBookingCompleted notifies a party that the booking reached completed
func (h *Hub) SendBookingCompleted(userID uint, completed BookingCompleted) {
	h.send(userID, "booking_completed", completed)
}

// SendTipAdded notifies the pilot of a tip
func (h *Hub) SendTipAdded(pilotID uint, tip TipAdded) {
	h.send(pilotID, "tip_added", tip)
}
