package platform

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoer struct {
	mu        sync.Mutex
	responses []func(*http.Request) (*http.Response, error)
	calls     int
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx < len(f.responses) {
		return f.responses[idx](req)
	}
	return jsonResponse(200, `{}`), nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{},
	}
}

func TestCreateHandshakeReturnsRunIDAndURL(t *testing.T) {
	t.Parallel()
	doer := &fakeDoer{responses: []func(*http.Request) (*http.Response, error){
		func(r *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			return jsonResponse(200, `{"run_id":"run-1","live_url":"https://platform.example/run-1"}`), nil
		},
	}}
	s := New(Config{BaseURL: "https://platform.example", APIKey: "secret", HTTPClient: doer})
	defer s.Close()

	resp, err := s.Create(context.Background(), "my-run", nil)
	require.NoError(t, err)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "https://platform.example/run-1", resp.LiveURL)
}

func TestEmitSyncBlocksUntilDelivered(t *testing.T) {
	t.Parallel()
	delivered := make(chan struct{}, 1)
	doer := &fakeDoer{responses: []func(*http.Request) (*http.Response, error){
		func(r *http.Request) (*http.Response, error) {
			delivered <- struct{}{}
			return jsonResponse(200, `{}`), nil
		},
	}}
	s := New(Config{BaseURL: "https://platform.example", RunID: "run-1", HTTPClient: doer})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.EmitSync(ctx, EventRunCompleted, map[string]any{"ok": true})
	require.NoError(t, err)

	select {
	case <-delivered:
	default:
		t.Fatal("expected request to have been delivered before EmitSync returned")
	}
}

func TestPersistentFailureDisablesStream(t *testing.T) {
	t.Parallel()
	doer := &fakeDoer{responses: []func(*http.Request) (*http.Response, error){
		func(r *http.Request) (*http.Response, error) {
			return jsonResponse(400, `{"error":"bad request"}`), nil
		},
	}}
	s := New(Config{BaseURL: "https://platform.example", RunID: "run-1", HTTPClient: doer})
	defer s.Close()

	err := s.EmitSync(context.Background(), EventRunCompleted, nil)
	require.Error(t, err)

	deadline := time.After(2 * time.Second)
	for !s.Disabled() {
		select {
		case <-deadline:
			t.Fatal("stream never disabled after persistent failure")
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.True(t, s.Disabled())
}

func TestEmitNonBlockingNeverPanics(t *testing.T) {
	t.Parallel()
	doer := &fakeDoer{}
	s := New(Config{BaseURL: "https://platform.example", RunID: "run-1", HTTPClient: doer, QueueSize: 1})
	defer s.Close()

	assert.NotPanics(t, func() {
		for i := 0; i < 100; i++ {
			s.Emit(EventItemStarted, map[string]any{"i": i})
		}
	})
}
