package chathub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"heartlink/backend/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// WebSocketClient implements Client over a gorilla/websocket connection.
// Inbound frames are handled one at a time on the read pump.
type WebSocketClient struct {
	EndpointID string
	OwnerID    string
	Conn       *websocket.Conn
	Hub        *ManagerService
	Dispatcher *Dispatcher
	Send       chan models.TelemetryEvent

	closeOnce sync.Once
}

func NewWebSocketClient(conn *websocket.Conn, hub *ManagerService, d *Dispatcher, endpointID, ownerID string, buffer int) *WebSocketClient {
	return &WebSocketClient{
		EndpointID: endpointID,
		OwnerID:    ownerID,
		Conn:       conn,
		Hub:        hub,
		Dispatcher: d,
		Send:       make(chan models.TelemetryEvent, buffer),
	}
}

func (c *WebSocketClient) GetEndpointID() string                        { return c.EndpointID }
func (c *WebSocketClient) GetOwnerID() string                           { return c.OwnerID }
func (c *WebSocketClient) GetSendChannel() chan<- models.TelemetryEvent { return c.Send }

// Run starts the pumps for the connection.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes Send, which stops writePump.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

func (c *WebSocketClient) readPump() {
	// Відключення йде через канал хаба; онлайн-статус знімає OnDisconnect
	defer func() {
		c.Hub.Disconnect(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error reading message: %v", err)
			}
			break
		}

		var ev models.TelemetryEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			log.Printf("Error decoding JSON from endpoint %s: %v", c.EndpointID, err)
			continue
		}
		if ev.EndpointID != "" && ev.EndpointID != c.EndpointID {
			log.Printf("WARNING: endpoint %s sent a frame claiming %s, using the connection's id", c.EndpointID, ev.EndpointID)
		}

		c.Dispatcher.Dispatch(context.Background(), c.EndpointID, ev)
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Registry closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(ev); err != nil {
				log.Printf("Error writing to endpoint %s: %v", c.EndpointID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
