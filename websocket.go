package lattice

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocket is a WebSocket peer, reached by upgrading a request inside
// a resource handler. It is kept as an optional escape hatch outside
// the core request/response dispatch loop — the spec's Non-goals
// exclude an application router DSL, not a raw protocol upgrade
// primitive, the way the teacher ships its own WebSocket type as an
// outer layer over Response rather than folding it into the core
// model.
//
// Directly adapted from the teacher's websocket.go.
type WebSocket struct {
	TextHandler            func(text string) error
	BinaryHandler          func(b []byte) error
	ConnectionCloseHandler func(statusCode int, reason string) error
	PingHandler            func(appData string) error
	PongHandler            func(appData string) error
	ErrorHandler           func(err error)

	conn   *websocket.Conn
	closed bool
}

// Upgrade switches req's underlying connection to the WebSocket
// protocol (RFC 6455), grounded on response.go's Response.WebSocket.
func Upgrade(w http.ResponseWriter, req *Request, subprotocols []string) (*WebSocket, error) {
	conn, err := (&websocket.Upgrader{
		Subprotocols: subprotocols,
	}).Upgrade(w, req.HTTPRequest(), nil)
	if err != nil {
		return nil, err
	}

	ws := &WebSocket{conn: conn}

	go ws.readLoop()

	return ws, nil
}

func (ws *WebSocket) readLoop() {
	ws.conn.SetCloseHandler(func(statusCode int, reason string) error {
		if ws.ConnectionCloseHandler != nil {
			return ws.ConnectionCloseHandler(statusCode, reason)
		}

		return nil
	})

	ws.conn.SetPingHandler(func(appData string) error {
		if ws.PingHandler != nil {
			return ws.PingHandler(appData)
		}

		return nil
	})

	ws.conn.SetPongHandler(func(appData string) error {
		if ws.PongHandler != nil {
			return ws.PongHandler(appData)
		}

		return nil
	})

	for {
		mt, b, err := ws.conn.ReadMessage()
		if err != nil {
			if !ws.closed && ws.ErrorHandler != nil {
				ws.ErrorHandler(err)
			}

			return
		}

		switch mt {
		case websocket.TextMessage:
			if ws.TextHandler != nil {
				if err := ws.TextHandler(string(b)); err != nil && ws.ErrorHandler != nil {
					ws.ErrorHandler(err)
				}
			}
		case websocket.BinaryMessage:
			if ws.BinaryHandler != nil {
				if err := ws.BinaryHandler(b); err != nil && ws.ErrorHandler != nil {
					ws.ErrorHandler(err)
				}
			}
		}
	}
}

// Close closes the connection without sending or waiting for a close
// message.
func (ws *WebSocket) Close() error {
	ws.closed = true
	return ws.conn.Close()
}

// WriteText writes a text message to the remote peer.
func (ws *WebSocket) WriteText(text string) error {
	return ws.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// WriteBinary writes a binary message to the remote peer.
func (ws *WebSocket) WriteBinary(b []byte) error {
	return ws.conn.WriteMessage(websocket.BinaryMessage, b)
}

// WriteConnectionClose writes a close control message.
func (ws *WebSocket) WriteConnectionClose(statusCode int, reason string) error {
	return ws.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(statusCode, reason))
}

// WritePing writes a ping control message.
func (ws *WebSocket) WritePing(appData string) error {
	return ws.conn.WriteMessage(websocket.PingMessage, []byte(appData))
}

// WritePong writes a pong control message.
func (ws *WebSocket) WritePong(appData string) error {
	return ws.conn.WriteMessage(websocket.PongMessage, []byte(appData))
}
