package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSendsHeadersAndReturnsPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/novel/102", r.URL.Path)
		assert.Equal(t, "scout-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "ko-KR", r.Header.Get("Accept-Language"))
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := New(Config{BaseURL: srv.URL + "/novel", UserAgent: "scout-test", AcceptLanguage: "ko-KR"}, nil, nil)
	page, err := f.Fetch(context.Background(), 102)
	require.NoError(t, err)

	assert.Equal(t, int64(102), page.ID)
	assert.Equal(t, srv.URL+"/novel/102", page.URL)
	assert.Equal(t, srv.URL+"/novel/102", page.FinalURL)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "<html>ok</html>", string(page.Body))
}

func TestFetchReturnsNonSuccessAsPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	page, err := New(Config{BaseURL: srv.URL}, nil, nil).Fetch(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, page.StatusCode)
}

func TestFetchFollowsRedirectAndRecordsFinalURL(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/novel/5", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/404", http.StatusFound)
	})
	mux.HandleFunc("/404", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("missing"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	page, err := New(Config{BaseURL: srv.URL + "/novel/"}, nil, nil).Fetch(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/404", page.FinalURL)
}

func TestFetchTruncatesLargeBodies(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 1024)))
	}))
	defer srv.Close()

	page, err := New(Config{BaseURL: srv.URL, MaxBytes: 10}, nil, nil).Fetch(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, page.Body, 10)
}

func TestFetchTransportErrors(t *testing.T) {
	t.Parallel()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)

	loop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path, http.StatusFound)
	}))
	t.Cleanup(loop.Close)

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	cases := []struct {
		name string
		cfg  Config
		kind string
	}{
		{name: "timeout", cfg: Config{BaseURL: slow.URL, Timeout: 50 * time.Millisecond}, kind: "timeout"},
		{name: "redirect loop", cfg: Config{BaseURL: loop.URL}, kind: "redirect"},
		{name: "refused", cfg: Config{BaseURL: closedURL}, kind: "connection"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tc.cfg, nil, nil).Fetch(context.Background(), 7)
			require.Error(t, err)

			var te *TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tc.kind, te.Kind)
			assert.Equal(t, tc.kind, te.Detail())
		})
	}
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Config{BaseURL: srv.URL}, nil, nil).Fetch(ctx, 1)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "canceled", te.Kind)
}

func TestNewLeavesCallerClientUntouched(t *testing.T) {
	t.Parallel()

	shared := &http.Client{}
	f := New(Config{BaseURL: "http://example.invalid/", Timeout: 3 * time.Second}, shared, nil)

	assert.Nil(t, shared.CheckRedirect)
	assert.Zero(t, shared.Timeout)
	assert.NotSame(t, shared, f.client)
	assert.Equal(t, 3*time.Second, f.client.Timeout)
	assert.NotNil(t, f.client.CheckRedirect)

	bounded := &http.Client{Timeout: time.Second}
	assert.Equal(t, time.Second, New(Config{BaseURL: "http://example.invalid/"}, bounded, nil).client.Timeout)
}
