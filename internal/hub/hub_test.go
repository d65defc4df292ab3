package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teamloop/realtime/internal/presence"
	"github.com/teamloop/realtime/internal/wire"
)

type fakeArchive struct {
	mu   sync.Mutex
	msgs []wire.ChatPayload
}

func (f *fakeArchive) Enqueue(msg wire.ChatPayload) bool {
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
	return true
}

func (f *fakeArchive) all() []wire.ChatPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.ChatPayload(nil), f.msgs...)
}

type fakeReplay struct {
	msgs []wire.ChatPayload
}

func (f *fakeReplay) Recent(ctx context.Context, channelID string, limit int) ([]wire.ChatPayload, error) {
	return f.msgs, nil
}

// startHub runs a hub behind a test server that takes the user identity
// from the ?user= query parameter.
func startHub(t *testing.T, deps Deps) (*Hub, *httptest.Server) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.PingInterval = 50 * time.Millisecond
	h := NewHub(cfg, deps, nil)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		user := r.URL.Query().Get("user")
		h.ServeConn(conn, Identity{UserID: user, DisplayName: user})
	}))

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.Stop(ctx)
	})

	return h, server
}

func dialHub(t *testing.T, server *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, kind wire.Kind, payload any) {
	t.Helper()
	data, err := wire.Marshal(kind, payload)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// readKind reads frames until one of the wanted kind arrives.
func readKind(t *testing.T, conn *websocket.Conn, kind wire.Kind) wire.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		env, err := wire.Parse(data)
		if err != nil {
			t.Fatalf("parse frame %s: %v", data, err)
		}
		if env.Kind == kind {
			return env
		}
	}
}

// expectSilence asserts nothing arrives on the connection for the window.
func expectSilence(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(window))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected silence, got frame %s", data)
	}
	if !strings.Contains(err.Error(), "timeout") && !strings.Contains(err.Error(), "deadline") {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func TestHub_ChatBroadcastAndEcho(t *testing.T) {
	archive := &fakeArchive{}
	_, server := startHub(t, Deps{Presence: presence.NewRegistry(nil), Archive: archive})

	alice := dialHub(t, server, "alice")
	bob := dialHub(t, server, "bob")

	sendFrame(t, alice, wire.KindJoinChannel, wire.JoinChannelPayload{ChannelID: "general"})
	sendFrame(t, bob, wire.KindJoinChannel, wire.JoinChannelPayload{ChannelID: "general"})
	time.Sleep(50 * time.Millisecond)

	sendFrame(t, alice, wire.KindChat, wire.ChatPayload{ChannelID: "general", Text: "hi"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		env := readKind(t, conn, wire.KindChat)
		var p wire.ChatPayload
		if err := env.Decode(&p); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if p.Text != "hi" {
			t.Errorf("Text = %q, want %q", p.Text, "hi")
		}
		if p.Sender != "alice" {
			t.Errorf("Sender = %q, want alice", p.Sender)
		}
		if p.MessageID == "" {
			t.Error("MessageID not stamped")
		}
		if p.SentAt.IsZero() {
			t.Error("SentAt not stamped")
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(archive.all()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	got := archive.all()
	if len(got) != 1 {
		t.Fatalf("archived = %d messages, want 1", len(got))
	}
	if got[0].Sender != "alice" || got[0].MessageID == "" {
		t.Errorf("archived message missing stamp: %+v", got[0])
	}
}

func TestHub_ChatWithoutJoinStillEchoes(t *testing.T) {
	_, server := startHub(t, Deps{})

	alice := dialHub(t, server, "alice")
	bob := dialHub(t, server, "bob")

	sendFrame(t, bob, wire.KindJoinChannel, wire.JoinChannelPayload{ChannelID: "general"})
	time.Sleep(50 * time.Millisecond)

	// Alice posts without joining: bob receives, alice gets the echo.
	sendFrame(t, alice, wire.KindChat, wire.ChatPayload{ChannelID: "general", Text: "drive-by"})

	for _, conn := range []*websocket.Conn{bob, alice} {
		env := readKind(t, conn, wire.KindChat)
		var p wire.ChatPayload
		env.Decode(&p)
		if p.Text != "drive-by" {
			t.Errorf("Text = %q, want drive-by", p.Text)
		}
	}
}

func TestHub_ChatRequiresChannel(t *testing.T) {
	_, server := startHub(t, Deps{})

	alice := dialHub(t, server, "alice")
	sendFrame(t, alice, wire.KindChat, wire.ChatPayload{Text: "to nowhere"})

	env := readKind(t, alice, wire.KindError)
	var p wire.ErrorPayload
	env.Decode(&p)
	if p.Code != "missing_channel" {
		t.Errorf("Code = %q, want missing_channel", p.Code)
	}
}

func TestHub_TypingExcludesSender(t *testing.T) {
	_, server := startHub(t, Deps{})

	alice := dialHub(t, server, "alice")
	bob := dialHub(t, server, "bob")

	sendFrame(t, alice, wire.KindJoinChannel, wire.JoinChannelPayload{ChannelID: "general"})
	sendFrame(t, bob, wire.KindJoinChannel, wire.JoinChannelPayload{ChannelID: "general"})
	time.Sleep(50 * time.Millisecond)

	sendFrame(t, alice, wire.KindTyping, wire.TypingPayload{ChannelID: "general"})

	env := readKind(t, bob, wire.KindTyping)
	var p wire.TypingPayload
	env.Decode(&p)
	if p.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", p.UserID)
	}

	expectSilence(t, alice, 150*time.Millisecond)
}

func TestHub_UnknownKindIgnored(t *testing.T) {
	h, server := startHub(t, Deps{})

	alice := dialHub(t, server, "alice")
	alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance","style":"tap"}`))

	// A follow-up frame proves the connection survived.
	sendFrame(t, alice, wire.KindChat, wire.ChatPayload{ChannelID: "general", Text: "still here"})
	readKind(t, alice, wire.KindChat)

	if got := h.Stats().Unknown; got != 1 {
		t.Errorf("Unknown = %d, want 1", got)
	}
}

func TestHub_MalformedFrameDropped(t *testing.T) {
	h, server := startHub(t, Deps{})

	alice := dialHub(t, server, "alice")
	alice.WriteMessage(websocket.TextMessage, []byte("not json"))

	sendFrame(t, alice, wire.KindChat, wire.ChatPayload{ChannelID: "general", Text: "still here"})
	readKind(t, alice, wire.KindChat)

	if got := h.Stats().ParseErrors; got != 1 {
		t.Errorf("ParseErrors = %d, want 1", got)
	}
}

func TestHub_CodingSessionFlow(t *testing.T) {
	_, server := startHub(t, Deps{Presence: presence.NewRegistry(nil)})

	alice := dialHub(t, server, "alice")
	bob := dialHub(t, server, "bob")

	sendFrame(t, alice, wire.KindJoinCodingSession, wire.JoinCodingSessionPayload{SessionID: "sess-1"})
	time.Sleep(50 * time.Millisecond)

	sendFrame(t, bob, wire.KindJoinCodingSession, wire.JoinCodingSessionPayload{SessionID: "sess-1"})

	env := readKind(t, alice, wire.KindCollaboratorJoined)
	var joined wire.CollaboratorJoinedPayload
	env.Decode(&joined)
	if joined.Username != "bob" || joined.SessionID != "sess-1" {
		t.Errorf("collaborator_joined = %+v, want bob in sess-1", joined)
	}

	// The joiner gets the current presence picture.
	penv := readKind(t, bob, wire.KindPresence)
	var pres wire.PresencePayload
	penv.Decode(&pres)
	if pres.Status != wire.StatusOnline {
		t.Errorf("presence Status = %q, want online", pres.Status)
	}

	// Verbatim relay, sender excluded.
	sendFrame(t, bob, wire.KindCodeUpdate, wire.CodeUpdatePayload{
		SessionID: "sess-1",
		Language:  "go",
		Code:      "package main",
	})
	cenv := readKind(t, alice, wire.KindCodeUpdate)
	var update wire.CodeUpdatePayload
	cenv.Decode(&update)
	if update.Code != "package main" || update.Language != "go" {
		t.Errorf("code_update = %+v, want verbatim relay", update)
	}

	// run_code is relayed, never executed.
	sendFrame(t, bob, wire.KindRunCode, wire.RunCodePayload{SessionID: "sess-1", Code: "main()"})
	readKind(t, alice, wire.KindRunCode)

	sendFrame(t, bob, wire.KindLeaveCodingSession, wire.LeaveCodingSessionPayload{SessionID: "sess-1"})
	lenv := readKind(t, alice, wire.KindCollaboratorLeft)
	var left wire.CollaboratorLeftPayload
	lenv.Decode(&left)
	if left.Username != "bob" {
		t.Errorf("collaborator_left Username = %q, want bob", left.Username)
	}
}

func TestHub_DisconnectEmitsCollaboratorLeft(t *testing.T) {
	_, server := startHub(t, Deps{})

	alice := dialHub(t, server, "alice")
	bob := dialHub(t, server, "bob")

	sendFrame(t, alice, wire.KindJoinCodingSession, wire.JoinCodingSessionPayload{SessionID: "sess-1"})
	time.Sleep(50 * time.Millisecond)
	sendFrame(t, bob, wire.KindJoinCodingSession, wire.JoinCodingSessionPayload{SessionID: "sess-1"})
	readKind(t, alice, wire.KindCollaboratorJoined)

	bob.Close()

	env := readKind(t, alice, wire.KindCollaboratorLeft)
	var left wire.CollaboratorLeftPayload
	env.Decode(&left)
	if left.Username != "bob" {
		t.Errorf("Username = %q, want bob", left.Username)
	}
}

func TestHub_HistoryReplayOnJoin(t *testing.T) {
	replay := &fakeReplay{msgs: []wire.ChatPayload{
		{MessageID: "m1", ChannelID: "general", Sender: "bob", Text: "first"},
		{MessageID: "m2", ChannelID: "general", Sender: "carol", Text: "second"},
	}}
	_, server := startHub(t, Deps{Replay: replay})

	alice := dialHub(t, server, "alice")
	sendFrame(t, alice, wire.KindJoinChannel, wire.JoinChannelPayload{ChannelID: "general"})

	env := readKind(t, alice, wire.KindHistory)
	var p wire.HistoryPayload
	if err := env.Decode(&p); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if p.ChannelID != "general" {
		t.Errorf("ChannelID = %q, want general", p.ChannelID)
	}
	if len(p.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(p.Messages))
	}
	if p.Messages[0].Text != "first" || p.Messages[1].Text != "second" {
		t.Errorf("Messages out of order: %+v", p.Messages)
	}
}

func TestHub_LeaveChannelStopsDelivery(t *testing.T) {
	_, server := startHub(t, Deps{})

	alice := dialHub(t, server, "alice")
	bob := dialHub(t, server, "bob")

	sendFrame(t, bob, wire.KindJoinChannel, wire.JoinChannelPayload{ChannelID: "general"})
	time.Sleep(50 * time.Millisecond)

	sendFrame(t, bob, wire.KindLeaveChannel, wire.LeaveChannelPayload{ChannelID: "general"})
	time.Sleep(50 * time.Millisecond)

	sendFrame(t, alice, wire.KindChat, wire.ChatPayload{ChannelID: "general", Text: "anyone?"})
	readKind(t, alice, wire.KindChat) // the echo

	expectSilence(t, bob, 150*time.Millisecond)
}

func TestHub_PresenceBroadcast(t *testing.T) {
	reg := presence.NewRegistry(nil)
	_, server := startHub(t, Deps{Presence: reg})

	alice := dialHub(t, server, "alice")
	bob := dialHub(t, server, "bob")
	time.Sleep(50 * time.Millisecond)

	sendFrame(t, alice, wire.KindPresence, wire.PresencePayload{Status: wire.StatusBusy})

	env := readKind(t, bob, wire.KindPresence)
	var p wire.PresencePayload
	env.Decode(&p)
	if p.UserID != "alice" {
		t.Errorf("UserID = %q, want alice (server-assigned)", p.UserID)
	}
	if p.Status != wire.StatusBusy {
		t.Errorf("Status = %q, want busy", p.Status)
	}

	snap := reg.Snapshot()
	var found bool
	for _, e := range snap {
		if e.UserID == "alice" && e.Status == wire.StatusBusy {
			found = true
		}
	}
	if !found {
		t.Errorf("registry snapshot missing alice=busy: %+v", snap)
	}
}

func TestHub_StatsCounts(t *testing.T) {
	h, server := startHub(t, Deps{})

	dialHub(t, server, "alice")
	bob := dialHub(t, server, "bob")
	sendFrame(t, bob, wire.KindJoinChannel, wire.JoinChannelPayload{ChannelID: "general"})
	sendFrame(t, bob, wire.KindJoinCodingSession, wire.JoinCodingSessionPayload{SessionID: "s"})
	time.Sleep(100 * time.Millisecond)

	stats := h.Stats()
	if stats.Clients != 2 {
		t.Errorf("Clients = %d, want 2", stats.Clients)
	}
	if stats.Channels != 1 {
		t.Errorf("Channels = %d, want 1", stats.Channels)
	}
	if stats.CodingSessions != 1 {
		t.Errorf("CodingSessions = %d, want 1", stats.CodingSessions)
	}
}

// Guard against payload drift between the envelope and its JSON form.
func TestHub_ChatFrameShape(t *testing.T) {
	_, server := startHub(t, Deps{})

	alice := dialHub(t, server, "alice")
	sendFrame(t, alice, wire.KindChat, wire.ChatPayload{ChannelID: "general", Text: "hi"})

	env := readKind(t, alice, wire.KindChat)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(env.Raw, &raw); err != nil {
		t.Fatalf("frame is not a JSON object: %v", err)
	}
	for _, field := range []string{"type", "message_id", "channel_id", "sender", "text", "sent_at"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("frame missing %q field: %s", field, env.Raw)
		}
	}
}
