package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, Token: "test-token", Timeout: timeout})
	require.NoError(t, err)
	return client
}

func TestClient_Do_Headers(t *testing.T) {
	var got *http.Request
	var body []byte
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"accepted"}`))
	}, time.Second)

	resp, err := client.Do(context.Background(), Request{
		Method:         http.MethodPost,
		Endpoint:       PathReviews,
		IdempotencyKey: "m-1",
		NaturalKey:     "flashcard:F1:u1",
		Body:           []byte(`{"confidence":3}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"status":"accepted"}`, string(resp.Body))

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, PathReviews, got.URL.Path)
	assert.Equal(t, "Bearer test-token", got.Header.Get("Authorization"))
	assert.Equal(t, "m-1", got.Header.Get(HeaderIdempotencyKey))
	assert.Equal(t, "flashcard:F1:u1", got.Header.Get(HeaderNaturalKey))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"confidence":3}`, string(body))
}

func TestClient_Do_StatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       Outcome
	}{
		{name: "ok", statusCode: http.StatusOK, want: OutcomeSuccess},
		{name: "no content", statusCode: http.StatusNoContent, want: OutcomeSuccess},
		{name: "server error", statusCode: http.StatusInternalServerError, want: OutcomeTransient},
		{name: "unavailable", statusCode: http.StatusServiceUnavailable, want: OutcomeTransient},
		{name: "request timeout", statusCode: http.StatusRequestTimeout, want: OutcomeTransient},
		{name: "rate limited", statusCode: http.StatusTooManyRequests, want: OutcomeTransient},
		{name: "bad request", statusCode: http.StatusBadRequest, want: OutcomePermanent},
		{name: "unauthorized", statusCode: http.StatusUnauthorized, want: OutcomePermanent},
		{name: "conflict", statusCode: http.StatusConflict, want: OutcomePermanent},
		{name: "unprocessable", statusCode: http.StatusUnprocessableEntity, want: OutcomePermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte("detail"))
			}, time.Second)

			_, err := client.Do(context.Background(), Request{Method: http.MethodPost, Endpoint: PathAttempts})
			assert.Equal(t, tt.want, Classify(err))

			if tt.want != OutcomeSuccess {
				var statusErr *StatusError
				require.True(t, errors.As(err, &statusErr))
				assert.Equal(t, tt.statusCode, statusErr.StatusCode)
				assert.Equal(t, "detail", statusErr.Body)
			}
		})
	}
}

func TestClient_Do_Timeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)
	defer close(release)

	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: PathHealth})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, OutcomeTransient, Classify(err))
}

func TestClient_Do_ParentCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Do(ctx, Request{Method: http.MethodGet, Endpoint: PathHealth})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestClient_Do_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewClient(Config{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	_, err = client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: PathHealth})
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, OutcomeTransient, Classify(err))
}

func TestClient_Do_InvalidEndpoint(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://localhost:1"})
	require.NoError(t, err)

	_, err = client.Do(context.Background(), Request{Method: http.MethodPost, Endpoint: "api/v1/attempts"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, OutcomePermanent, Classify(err))
}

func TestClient_FetchFlashcard(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PathFlashcards+"F1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Flashcard{ID: "F1", DeckID: "D1", Front: "hola", Back: "hello", Version: 3})
	}, time.Second)

	card, err := client.FetchFlashcard(context.Background(), "F1")
	require.NoError(t, err)
	assert.Equal(t, "hola", card.Front)
	assert.Equal(t, 3, card.Version)

	_, err = client.FetchFlashcard(context.Background(), "missing")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestClient_BaseURLWithPrefix(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL + "/study/"})
	require.NoError(t, err)
	require.NoError(t, client.Health(context.Background()))
	assert.Equal(t, "/study/health", path)
}

func TestNewClient_RejectsBadScheme(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "ftp://example.com"})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Classify(nil))
	assert.Equal(t, OutcomeTransient, Classify(context.DeadlineExceeded))
	assert.Equal(t, OutcomeTransient, Classify(errors.New("connection reset")))
	assert.Equal(t, OutcomePermanent, Classify(&StatusError{StatusCode: http.StatusForbidden}))
	assert.Equal(t, "permanent", OutcomePermanent.String())
}
