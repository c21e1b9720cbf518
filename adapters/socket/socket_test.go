package socket

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/artpar/plume/adapters/auth"
	"github.com/artpar/plume/adapters/clock"
	"github.com/artpar/plume/adapters/hasher"
	"github.com/artpar/plume/adapters/idgen"
	"github.com/artpar/plume/adapters/storage/memory"
	"github.com/artpar/plume/core/realtime"
	"github.com/artpar/plume/core/service"
	"github.com/artpar/plume/ports"
	"github.com/artpar/plume/services/authentication"
	"github.com/artpar/plume/services/messages"
	"github.com/artpar/plume/services/users"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type wsFixture struct {
	srv *httptest.Server
	reg *realtime.Registry
}

func setupWS(t *testing.T) *wsFixture {
	t.Helper()

	app := service.NewApp(service.Config{IDs: idgen.NewSequential("id"), Logger: zerolog.Nop()})
	reg := realtime.NewRegistry(idgen.NewSequential("c"), zerolog.Nop())
	reg.OnConnect(func(c *realtime.Connection) { reg.Join(realtime.Everybody, c) })

	pub := realtime.NewPublisher(reg, zerolog.Nop())
	tokens := auth.NewTokenService("test-secret", time.Hour)
	h := hasher.Fake{}
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	userSvc := app.Use(users.Path, memory.New(idgen.NewSequential("u"), "email")).
		Hooks(users.Hooks(h))
	app.Use(messages.Path, memory.New(idgen.NewSequential("m"))).
		Hooks(messages.Hooks(userSvc, clk))
	app.Use(authentication.Path, authentication.Storage{}).
		Hooks(authentication.Hooks(userSvc, tokens, h, reg))

	pub.Serialize(users.Path, users.Serializer())
	pub.Serialize(messages.Path, messages.Serializer())
	pub.Resolve(authentication.Path, authentication.Resolver())
	app.SetPublisher(pub)

	srv := httptest.NewServer(NewServer(app, reg, nil, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return &wsFixture{srv: srv, reg: reg}
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws
}

func call(t *testing.T, ws *websocket.Conn, f frame) frame {
	t.Helper()

	if err := ws.WriteJSON(f); err != nil {
		t.Fatalf("write call: %v", err)
	}

	// Skip unsolicited event frames until the reply with our id arrives.
	for {
		var reply frame
		if err := ws.ReadJSON(&reply); err != nil {
			t.Fatalf("read reply: %v", err)
		}
		if reply.Type == frameEvent {
			continue
		}
		if reply.ID != f.ID {
			t.Fatalf("reply id = %q, want %q", reply.ID, f.ID)
		}
		return reply
	}
}

func login(t *testing.T, ws *websocket.Conn, id string) {
	t.Helper()

	reply := call(t, ws, frame{
		Type:    frameCall,
		ID:      id,
		Service: users.Path,
		Method:  "create",
		Data:    ports.Record{"email": id + "@x.io", "password": "secret"},
	})
	if reply.Type != frameResult {
		t.Fatalf("register failed: %+v", reply.Error)
	}

	reply = call(t, ws, frame{
		Type:    frameCall,
		ID:      id + "-login",
		Service: authentication.Path,
		Method:  "create",
		Data:    ports.Record{"email": id + "@x.io", "password": "secret"},
	})
	if reply.Type != frameResult {
		t.Fatalf("login failed: %+v", reply.Error)
	}
}

// TestCallResultError verifies the one-reply-per-call contract
func TestCallResultError(t *testing.T) {
	f := setupWS(t)
	ws := f.dial(t)

	reply := call(t, ws, frame{
		Type:    frameCall,
		ID:      "1",
		Service: messages.Path,
		Method:  "find",
	})
	if reply.Type != frameResult {
		t.Fatalf("find reply = %+v", reply)
	}

	// Anonymous create fails with a classified error frame.
	reply = call(t, ws, frame{
		Type:    frameCall,
		ID:      "2",
		Service: messages.Path,
		Method:  "create",
		Data:    ports.Record{"text": "hi"},
	})
	if reply.Type != frameError {
		t.Fatalf("anonymous create reply = %+v", reply)
	}
	if reply.Error == nil || reply.Error.Kind != "unauthenticated" {
		t.Errorf("error = %+v", reply.Error)
	}
}

// TestLoginBindsSocketIdentity verifies authentication persists across
// calls on the same socket
func TestLoginBindsSocketIdentity(t *testing.T) {
	f := setupWS(t)
	ws := f.dial(t)
	login(t, ws, "a")

	reply := call(t, ws, frame{
		Type:    frameCall,
		ID:      "3",
		Service: messages.Path,
		Method:  "create",
		Data:    ports.Record{"text": "hello"},
	})
	if reply.Type != frameResult {
		t.Fatalf("authenticated create reply = %+v", reply.Error)
	}

	result, _ := reply.Result.(map[string]any)
	if result["text"] != "hello" {
		t.Errorf("result = %v", result)
	}
	if result["userId"] == "" || result["userId"] == nil {
		t.Error("message should carry the bound identity")
	}
}

// TestEventFanOut verifies a second socket receives the created event
func TestEventFanOut(t *testing.T) {
	f := setupWS(t)

	listener := f.dial(t)
	sender := f.dial(t)
	login(t, sender, "a")

	reply := call(t, sender, frame{
		Type:    frameCall,
		ID:      "m",
		Service: messages.Path,
		Method:  "create",
		Data:    ports.Record{"text": "broadcast me"},
	})
	if reply.Type != frameResult {
		t.Fatalf("create failed: %+v", reply.Error)
	}

	// The listener joined the broadcast channel on connect; the sender's
	// user and message mutations each fan out, so scan for the message
	// event.
	for {
		var event frame
		if err := listener.ReadJSON(&event); err != nil {
			t.Fatalf("listener read: %v", err)
		}
		if event.Type != frameEvent {
			t.Fatalf("listener got a non-event frame: %+v", event)
		}
		if event.Event == "authentication created" {
			t.Fatal("login result was broadcast to a bystander")
		}
		if event.Event != "messages created" {
			continue
		}

		payload, _ := event.Result.(map[string]any)
		if payload["text"] != "broadcast me" {
			t.Errorf("event payload = %v", payload)
		}
		// The channel serializer strips the embedded sender's hash.
		if user, ok := payload["user"].(map[string]any); ok {
			if _, leaked := user["password"]; leaked {
				t.Error("event leaked the sender's password hash")
			}
		}
		return
	}
}

// TestUnknownFrameTypeIgnored verifies junk frames do not kill the socket
func TestUnknownFrameTypeIgnored(t *testing.T) {
	f := setupWS(t)
	ws := f.dial(t)

	if err := ws.WriteJSON(frame{Type: "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	reply := call(t, ws, frame{
		Type:    frameCall,
		ID:      "1",
		Service: messages.Path,
		Method:  "find",
	})
	if reply.Type != frameResult {
		t.Fatalf("socket should survive unknown frame types, got %+v", reply)
	}
}

// TestDisconnectUnregisters verifies closing the socket shrinks the
// registry
func TestDisconnectUnregisters(t *testing.T) {
	f := setupWS(t)
	ws := f.dial(t)

	deadline := time.Now().Add(2 * time.Second)
	for f.reg.Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("count = %d, want 1", f.reg.Count())
		}
		time.Sleep(10 * time.Millisecond)
	}

	ws.Close()
	for f.reg.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("count after close = %d, want 0", f.reg.Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
