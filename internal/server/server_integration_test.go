package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/dispatch"
	"github.com/ayusman/mudra/internal/player"
	"github.com/ayusman/mudra/internal/store"
)

// fakeController records viewer commands.
type fakeController struct {
	mu      sync.Mutex
	snap    app.Snapshot
	blocked []string
	confirm int
	enabled bool
}

func (c *fakeController) Snapshot() app.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *fakeController) Confirm(ctx context.Context) (dispatch.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirm++
	return dispatch.Outcome{}, dispatch.ErrNothingConfirmed
}

func (c *fakeController) Reset(ctx context.Context) error { return nil }

func (c *fakeController) UpdateSettings(ctx context.Context, cfg dispatch.Config) error {
	return nil
}

func (c *fakeController) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

func (c *fakeController) PlaybackBlocked(ctx context.Context, label string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked = append(c.blocked, label)
	return nil
}

func (c *fakeController) blockedLabels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.blocked...)
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAPI_ResponseWorkflow(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	catalog := player.NewCatalog(nil)
	reload := func() error {
		lib, err := s.Responses().Library()
		if err != nil {
			return err
		}
		catalog.Replace(lib)
		return nil
	}

	ts := httptest.NewServer(New(Config{Store: s, OnResponsesChanged: reload}))
	defer ts.Close()
	client := ts.Client()

	// 1. Bind a clip to a label
	body := `{"label": "letra_a", "resource": "videos/resposta_letra_a.mp4"}`
	resp, err := client.Post(ts.URL+"/api/responses", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /api/responses error = %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var created struct {
		ID string `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	if res, ok := catalog.Resolve("letra_a"); !ok || res != "videos/resposta_letra_a.mp4" {
		t.Errorf("catalog not reloaded: %q, %v", res, ok)
	}

	// 2. List
	resp, _ = client.Get(ts.URL + "/api/responses")
	var listed struct {
		Responses []struct {
			ID string `json:"id"`
		} `json:"responses"`
	}
	json.NewDecoder(resp.Body).Decode(&listed)
	resp.Body.Close()
	if len(listed.Responses) != 1 || listed.Responses[0].ID != created.ID {
		t.Fatalf("unexpected list %+v", listed)
	}

	// 3. Delete
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/responses/"+created.ID, nil)
	resp, _ = client.Do(req)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	resp.Body.Close()

	if _, ok := catalog.Resolve("letra_a"); ok {
		t.Error("catalog should drop the deleted response")
	}
}

func TestAPI_HealthCheck(t *testing.T) {
	srv := New(Config{Hub: NewHub()})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var health struct {
		Status  string `json:"status"`
		Viewers int    `json:"viewers"`
	}
	json.NewDecoder(resp.Body).Decode(&health)

	if health.Status != "ok" || health.Viewers != 0 {
		t.Errorf("unexpected health %+v", health)
	}
}

func TestHub_ViewerSession(t *testing.T) {
	ctl := &fakeController{snap: app.Snapshot{Run: app.RunRunning, Enabled: true}}
	hub := NewHub()
	ts := httptest.NewServer(New(Config{Hub: hub, Controller: ctl}))
	defer ts.Close()

	conn := dial(t, ts)

	msg := readMessage(t, conn)
	if msg["type"] != "snapshot" {
		t.Fatalf("first message type = %v, want snapshot", msg["type"])
	}
	waitFor(t, "registration", func() bool { return hub.Clients() == 1 })

	t.Run("player commands reach the viewer", func(t *testing.T) {
		catalog := player.NewCatalog(player.Library{"letra_a": "resposta_letra_a.mp4"})
		b := player.NewBroadcast(catalog, hub)

		if err := b.Play(context.Background(), "letra_a"); err != nil {
			t.Fatalf("Play() error = %v", err)
		}
		msg := readMessage(t, conn)
		if msg["type"] != player.CommandPlay || msg["url"] != "/media/resposta_letra_a.mp4" {
			t.Errorf("unexpected play command %v", msg)
		}
	})

	t.Run("app events reach the viewer", func(t *testing.T) {
		hub.Forward(app.Event{Type: app.EventStatus, Status: &app.Status{Level: app.LevelInfo, Message: "running"}})
		msg := readMessage(t, conn)
		if msg["type"] != string(app.EventStatus) {
			t.Errorf("unexpected event %v", msg)
		}
	})

	t.Run("viewer reports blocked playback", func(t *testing.T) {
		if err := conn.WriteJSON(clientMessage{Type: MsgPlaybackBlocked, Label: "letra_a"}); err != nil {
			t.Fatalf("write: %v", err)
		}
		waitFor(t, "playback_blocked", func() bool {
			labels := ctl.blockedLabels()
			return len(labels) == 1 && labels[0] == "letra_a"
		})
	})

	t.Run("command errors are returned to the sender", func(t *testing.T) {
		if err := conn.WriteJSON(clientMessage{Type: MsgConfirm}); err != nil {
			t.Fatalf("write: %v", err)
		}
		msg := readMessage(t, conn)
		if msg["type"] != "error" || !strings.Contains(msg["error"].(string), "no confirmed gesture") {
			t.Errorf("unexpected reply %v", msg)
		}
	})

	t.Run("disconnect", func(t *testing.T) {
		conn.Close()
		waitFor(t, "unregister", func() bool { return hub.Clients() == 0 })

		b := player.NewBroadcast(player.NewCatalog(player.Library{"letra_a": "a.mp4"}), hub)
		if err := b.Play(context.Background(), "letra_a"); !errors.Is(err, player.ErrNoAudience) {
			t.Errorf("Play() without viewers error = %v, want ErrNoAudience", err)
		}
	})
}

func TestStreamHandler(t *testing.T) {
	frames := capture.NewFrameBuffer()
	ts := httptest.NewServer(New(Config{Frames: frames}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream", nil)

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := ts.Client().Do(req)
		done <- result{resp, err}
	}()

	waitFor(t, "watcher", frames.Watching)
	frames.Publish([]byte("jpeg-bytes"))

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not respond")
	}
	if res.err != nil {
		t.Fatalf("GET /api/stream error = %v", res.err)
	}
	defer res.resp.Body.Close()

	if ct := res.resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Errorf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(res.resp.Body)
	var header strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read part header: %v", err)
		}
		header.WriteString(line)
		if line == "\r\n" {
			break
		}
	}
	if !strings.Contains(header.String(), "Content-Length: 10") {
		t.Errorf("unexpected part header %q", header.String())
	}

	body := make([]byte, 10)
	if _, err := io.ReadFull(r, body); err != nil {
		t.Fatalf("read part body: %v", err)
	}
	if string(body) != "jpeg-bytes" {
		t.Errorf("part body = %q", body)
	}

	cancel()
	waitFor(t, "release", func() bool { return !frames.Watching() })
}
