package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTokens struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func (m *memTokens) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access, nil
}

func (m *memTokens) RefreshToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh, nil
}

func (m *memTokens) SetAccessToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access = token
	return nil
}

func newTestClient(t *testing.T, handler http.Handler, tokens *memTokens) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL}, tokens, zerolog.Nop())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestChatMessagesSendsBearerToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages/chat/100", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer good", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{"messages": []map[string]any{
			{"message_id": 1, "chat_id": 100, "sender_id": 2, "message_text": "hi"},
			{"message_id": 2, "chat_id": 100, "sender_id": 1, "message_text": "yo"},
		}})
	})
	client := newTestClient(t, mux, &memTokens{access: "good"})

	msgs, err := client.ChatMessages(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Text)
}

func TestUnauthorizedRefreshesOnceAndRetries(t *testing.T) {
	var refreshes, calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshes, 1)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r1", body["refreshToken"])
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": "fresh"})
	})
	mux.HandleFunc("/api/chats/user/7/preview", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chats": []map[string]any{{"chat_id": 3, "chat_type": "group", "chat_name": "team"}}})
	})
	tokens := &memTokens{access: "stale", refresh: "r1"}
	client := newTestClient(t, mux, tokens)

	chats, err := client.ChatPreviews(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "team", chats[0].Name)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "fresh", tokens.access)
}

func TestConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	var refreshes int32
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshes, 1)
		<-release
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": "fresh"})
	})
	mux.HandleFunc("/api/notifications/unread-count", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"unread_count": 4})
	})
	client := newTestClient(t, mux, &memTokens{access: "stale", refresh: "r1"})

	var wg sync.WaitGroup
	results := make([]int, 5)
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = client.UnreadCount(context.Background())
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, 4, results[i])
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&refreshes), int32(2))
}

func TestRefreshFailureSurfacesSessionExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
	})
	mux.HandleFunc("/api/chats/9", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client := newTestClient(t, mux, &memTokens{access: "stale", refresh: "bad"})

	var expired int32
	client.OnSessionExpired(func() { atomic.AddInt32(&expired, 1) })

	_, err := client.Chat(context.Background(), 9)
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&expired))
}

func TestRefreshTransportFailureIsNotSessionExpiry(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	})
	mux.HandleFunc("/api/chats/9", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client := newTestClient(t, mux, &memTokens{access: "stale", refresh: "r"})

	var expired int32
	client.OnSessionExpired(func() { atomic.AddInt32(&expired, 1) })

	_, err := client.Chat(context.Background(), 9)
	require.Error(t, err)
	assert.False(t, IsAuthError(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&expired))
}

func TestRefreshServerErrorIsNotSessionExpiry(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "maintenance"})
	})
	mux.HandleFunc("/api/chats/9", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client := newTestClient(t, mux, &memTokens{access: "stale", refresh: "r"})

	var expired int32
	client.OnSessionExpired(func() { atomic.AddInt32(&expired, 1) })

	_, err := client.Chat(context.Background(), 9)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.False(t, IsAuthError(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&expired))
}

func TestConcurrentRejectionsAnnounceExpiryOnce(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		<-release
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
	})
	mux.HandleFunc("/api/chats/9", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client := newTestClient(t, mux, &memTokens{access: "stale", refresh: "bad"})

	var expired int32
	client.OnSessionExpired(func() { atomic.AddInt32(&expired, 1) })

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Chat(context.Background(), 9)
			assert.ErrorIs(t, err, ErrSessionExpired)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&expired))
}

func TestMissingRefreshTokenSurfacesSessionExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chats/9", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client := newTestClient(t, mux, &memTokens{access: "stale"})

	_, err := client.Chat(context.Background(), 9)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestNotFoundBecomesAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chats/404", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "chat not found"})
	})
	client := newTestClient(t, mux, &memTokens{access: "good"})

	_, err := client.Chat(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "chat not found", apiErr.Message)
}

func TestExpiringTokenIsRefreshedAhead(t *testing.T) {
	soon := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Second)),
	})
	signed, err := soon.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	var refreshes int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshes, 1)
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": "renewed"})
	})
	mux.HandleFunc("/api/notifications/read-all", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "Bearer renewed", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client := NewClient(Config{BaseURL: srv.URL, RefreshSkew: 30 * time.Second}, &memTokens{access: signed, refresh: "r"}, zerolog.Nop())

	require.NoError(t, client.MarkAllNotificationsRead(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
}

func TestFailedProactiveRefreshLeavesSessionAlive(t *testing.T) {
	soon := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Second)),
	})
	signed, err := soon.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	})
	mux.HandleFunc("/api/notifications/read-all", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+signed, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client := NewClient(Config{BaseURL: srv.URL, RefreshSkew: 30 * time.Second}, &memTokens{access: signed, refresh: "r"}, zerolog.Nop())

	var expired int32
	client.OnSessionExpired(func() { atomic.AddInt32(&expired, 1) })

	require.NoError(t, client.MarkAllNotificationsRead(context.Background()))
	assert.Equal(t, int32(0), atomic.LoadInt32(&expired))
}

func TestNotificationsQuery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "40", r.URL.Query().Get("offset"))
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{{"notification_id": 11, "is_read": false}}})
	})
	client := newTestClient(t, mux, &memTokens{access: "good"})

	list, err := client.Notifications(context.Background(), 20, 40)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 11, list[0].ID)
}
