package wss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClientConnect(t *testing.T) {
	server := newTestServer(func(conn *websocket.Conn) {
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(mt, msg)
		}
	})
	defer server.Close()

	config := DefaultConfig(wsURL(server))
	config.ReconnectEnabled = false

	var mu sync.Mutex
	var connected bool

	client := NewClient(config, Handlers{
		OnConnect: func() {
			mu.Lock()
			connected = true
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	mu.Lock()
	if !connected {
		t.Error("OnConnect was not called")
	}
	mu.Unlock()

	if !client.IsConnected() {
		t.Error("Client should be connected")
	}
	if client.State() != StateConnected {
		t.Errorf("Wrong state: %v", client.State())
	}
}

func TestClientEcho(t *testing.T) {
	server := newTestServer(func(conn *websocket.Conn) {
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(mt, msg)
		}
	})
	defer server.Close()

	config := DefaultConfig(wsURL(server))
	config.ReconnectEnabled = false

	received := make(chan []byte, 1)
	client := NewClient(config, Handlers{
		OnMessage: func(data []byte) {
			select {
			case received <- data:
			default:
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if err := client.Send([]byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != `{"type":"ping"}` {
			t.Errorf("Wrong echo payload: %s", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("No echo received")
	}
}

func TestClientSendWhileDisconnected(t *testing.T) {
	client := NewClient(DefaultConfig("ws://127.0.0.1:1/nothing"), Handlers{})

	if err := client.Send([]byte("x")); err == nil {
		t.Error("Send before Connect should fail")
	}
}

func TestClientClosedIsTerminal(t *testing.T) {
	client := NewClient(DefaultConfig("ws://127.0.0.1:1/nothing"), Handlers{})
	client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Connect(ctx); err == nil {
		t.Error("Connect after Close should fail")
	}
	if client.State() != StateClosed {
		t.Errorf("Wrong state: %v", client.State())
	}
}
