package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blackmichael/splatshare/internal/config"
	"github.com/blackmichael/splatshare/internal/domain"
	"github.com/blackmichael/splatshare/internal/localstore"
	"github.com/blackmichael/splatshare/internal/postcache"
	"github.com/blackmichael/splatshare/internal/remote"
	"github.com/gorilla/websocket"
)

// upstream is a minimal stand-in for the hosted data service.
type upstream struct {
	mu    sync.Mutex
	posts map[string]domain.Post
}

func (u *upstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /posts", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()
		posts := make([]domain.Post, 0, len(u.posts))
		for _, p := range u.posts {
			posts = append(posts, p)
		}
		writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
	})
	mux.HandleFunc("GET /posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()
		p, ok := u.posts[r.PathValue("id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "no such post"})
			return
		}
		writeJSON(w, http.StatusOK, p)
	})
	mux.HandleFunc("POST /posts/{id}/like", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()
		p := u.posts[r.PathValue("id")]
		p.LikesCount++
		p.IsLiked = true
		u.posts[p.ID] = p
		writeJSON(w, http.StatusOK, p)
	})
	return mux
}

type testEnv struct {
	server *Server
	http   *httptest.Server
	posts  *domain.PostService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	up := &upstream{posts: map[string]domain.Post{
		"p1": {ID: "p1", UserID: "u1", LikesCount: 2, CommentsCount: 1, Is3D: true},
	}}
	upSrv := httptest.NewServer(up.handler())
	t.Cleanup(upSrv.Close)

	store, err := localstore.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	cache, err := postcache.New(16)
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := remote.NewClient(upSrv.URL, func(ctx context.Context) (string, error) {
		token, _, err := store.GetAuthToken(ctx)
		return token, err
	})
	posts := domain.NewPostService(client, store, cache, logger)
	t.Cleanup(posts.Wait)

	s := NewServer(&config.Config{Port: 0}, posts, cache, logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.hub.close()
		srv.Close()
	})

	return &testEnv{server: s, http: srv, posts: posts}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.http.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthSetsRequestID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestLoadEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/posts/p1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /posts/p1 status = %d", resp.StatusCode)
	}
	if post := decode[domain.Post](t, resp); post.ID != "p1" || post.LikesCount != 2 || !post.Is3D {
		t.Errorf("GET /posts/p1 = %+v", post)
	}

	resp = env.do(t, http.MethodGet, "/feed?page=0&limit=5", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /feed status = %d", resp.StatusCode)
	}
	if body := decode[struct{ Posts []domain.Post }](t, resp); len(body.Posts) != 1 {
		t.Errorf("GET /feed returned %d posts", len(body.Posts))
	}

	if resp := env.do(t, http.MethodGet, "/posts/missing", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /posts/missing status = %d, want 404", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/feed?limit=0", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("GET /feed?limit=0 status = %d, want 400", resp.StatusCode)
	}
}

func TestToggleLikeNeedsSession(t *testing.T) {
	env := newTestEnv(t)

	post := domain.Post{LikesCount: 2}
	if resp := env.do(t, http.MethodPost, "/posts/p1/like", post); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("like without session status = %d, want 401", resp.StatusCode)
	}

	session := map[string]any{"token": "tok", "user": domain.UserProfile{ID: "u9", Username: "ana"}}
	if resp := env.do(t, http.MethodPut, "/session", session); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("PUT /session status = %d", resp.StatusCode)
	}
	if profile := decode[domain.UserProfile](t, env.do(t, http.MethodGet, "/session", nil)); profile.Username != "ana" {
		t.Errorf("GET /session = %+v", profile)
	}

	resp := env.do(t, http.MethodPost, "/posts/p1/like", post)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("like status = %d, want 202", resp.StatusCode)
	}
	if got := decode[domain.Post](t, resp); got.ID != "p1" || !got.IsLiked || got.LikesCount != 3 {
		t.Errorf("like returned %+v, want p1 liked with 3 likes", got)
	}
	env.posts.Wait()

	if resp := env.do(t, http.MethodDelete, "/session", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE /session status = %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/session", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("GET /session after logout status = %d, want 401", resp.StatusCode)
	}
}

func TestCommentEndpointsValidate(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/session", map[string]any{"token": "tok"})

	resp := env.do(t, http.MethodPost, "/posts/p1/comments", map[string]string{"text": "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank comment status = %d, want 400", resp.StatusCode)
	}
}

func (e *testEnv) dialWS(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for {
		e.server.hub.mu.Lock()
		n := len(e.server.hub.clients)
		e.server.hub.mu.Unlock()
		if n == 1 {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readUpdate(t *testing.T, conn *websocket.Conn) postUpdate {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg postUpdate
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read update: %v", err)
	}
	return msg
}

func TestWebSocketStreamsCacheWrites(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dialWS(t)

	if resp := env.do(t, http.MethodGet, "/posts/p1", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /posts/p1 status = %d", resp.StatusCode)
	}

	msg := readUpdate(t, conn)
	if msg.Type != "post" || msg.Post == nil || msg.Post.ID != "p1" {
		t.Errorf("update = %+v, want post p1", msg)
	}
}

func TestWebSocketAnnouncesLogout(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/session", map[string]any{"token": "tok"})
	conn := env.dialWS(t)

	if resp := env.do(t, http.MethodDelete, "/session", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE /session status = %d", resp.StatusCode)
	}

	if msg := readUpdate(t, conn); msg.Type != "purge" || msg.Post != nil {
		t.Errorf("update = %+v, want purge", msg)
	}
}

func TestStatusWriterFailedHijackKeepsStatus(t *testing.T) {
	w := &statusWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}

	if _, _, err := w.Hijack(); err == nil {
		t.Fatal("Hijack() on a recorder succeeded")
	}
	if w.status != http.StatusOK {
		t.Errorf("status after failed hijack = %d, want %d", w.status, http.StatusOK)
	}
}
