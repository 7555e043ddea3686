package gateway

import (
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Per-client subscriptions: key = "symbol:tf"
	subMu sync.RWMutex
	subs  map[string]bool
}

// subscribeMsg is {"type":"SUBSCRIBE"|"UNSUBSCRIBE","symbol":"SPY","tf":60}.
type subscribeMsg struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	TF     int    `json:"tf"`
	Ping   int64  `json:"ping"`
}

func subKey(symbol string, tf int) string {
	return strings.ToUpper(symbol) + ":" + strconv.Itoa(tf)
}

func (c *Client) sendInitialState(lastTS string) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}

		envelope, _ := json.Marshal(map[string]interface{}{
			"channel":     channel,
			"data":        entry.Data,
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce queued messages into one frame, newline separated
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var msg subscribeMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			if msg.Symbol == "" || msg.TF <= 0 {
				c.reply(map[string]interface{}{"type": "error", "error": "symbol and tf are required"})
				continue
			}
			c.subMu.Lock()
			c.subs[subKey(msg.Symbol, msg.TF)] = true
			c.subMu.Unlock()
			c.reply(map[string]interface{}{"type": "subscribed", "symbol": msg.Symbol, "tf": msg.TF})

		case "UNSUBSCRIBE":
			c.subMu.Lock()
			delete(c.subs, subKey(msg.Symbol, msg.TF))
			c.subMu.Unlock()

		default:
			if msg.Ping > 0 {
				c.reply(map[string]interface{}{
					"type":      "pong",
					"ping":      msg.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
			}
		}
	}
}

func (c *Client) reply(v interface{}) {
	data, _ := json.Marshal(v)
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// matchesChannel reports whether the client should receive a message on channel.
// Clients without subscriptions receive everything; alerts go to everyone.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		return true
	}
	symbol, tf, ok := parseResultChannel(channel)
	if !ok {
		return true
	}
	return c.subs[subKey(symbol, tf)]
}

// parseResultChannel parses "pub:di:60s:SPY".
func parseResultChannel(channel string) (symbol string, tf int, ok bool) {
	parts := strings.SplitN(channel, ":", 4)
	if len(parts) != 4 || parts[0] != "pub" || parts[1] != "di" {
		return "", 0, false
	}
	tf, err := strconv.Atoi(strings.TrimSuffix(parts[2], "s"))
	if err != nil {
		return "", 0, false
	}
	return parts[3], tf, true
}
