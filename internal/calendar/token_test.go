package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBearerCachesUntilNearExpiry(t *testing.T) {
	var refreshes int32
	source := NewTokenSource(func(context.Context) (Token, error) {
		atomic.AddInt32(&refreshes, 1)
		return Token{AccessToken: "tok-1", Expiry: time.Now().Add(time.Hour)}, nil
	})

	for i := 0; i < 5; i++ {
		tok, err := source.Bearer(context.Background())
		require.NoError(t, err)
		require.Equal(t, "tok-1", tok)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
}

func TestBearerRefreshesExpiredToken(t *testing.T) {
	var refreshes int32
	source := NewTokenSource(func(context.Context) (Token, error) {
		n := atomic.AddInt32(&refreshes, 1)
		if n == 1 {
			// First token is already inside the leeway window.
			return Token{AccessToken: "tok-1", Expiry: time.Now().Add(time.Second)}, nil
		}
		return Token{AccessToken: "tok-2", Expiry: time.Now().Add(time.Hour)}, nil
	})

	tok, err := source.Bearer(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)

	tok, err = source.Bearer(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-2", tok)
}

func TestBearerPropagatesRefreshFailure(t *testing.T) {
	source := NewTokenSource(func(context.Context) (Token, error) {
		return Token{}, errors.New("auth server down")
	})

	_, err := source.Bearer(context.Background())
	require.Error(t, err)
}

func TestBearerSingleFlightUnderConcurrency(t *testing.T) {
	var refreshes int32
	release := make(chan struct{})
	source := NewTokenSource(func(context.Context) (Token, error) {
		atomic.AddInt32(&refreshes, 1)
		<-release
		return Token{AccessToken: "tok-1", Expiry: time.Now().Add(time.Hour)}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := source.Bearer(context.Background())
			require.NoError(t, err)
			require.Equal(t, "tok-1", tok)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
}

func TestBearerRefreshSurvivesCancelledCaller(t *testing.T) {
	var refreshes int32
	source := NewTokenSource(func(ctx context.Context) (Token, error) {
		atomic.AddInt32(&refreshes, 1)
		if err := ctx.Err(); err != nil {
			return Token{}, err
		}
		return Token{AccessToken: "tok-1", Expiry: time.Now().Add(time.Hour)}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The shared refresh must not run on the cancelled caller's context, or
	// every waiter sharing the flight would fail with it.
	tok, err := source.Bearer(ctx)
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)

	tok, err = source.Bearer(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)
	require.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
}

func TestOAuthRefreshExchangesRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.Equal(t, "client-1", r.Form.Get("client_id"))
		require.Equal(t, "refresh-1", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":3600}`))
	}))
	defer srv.Close()

	refresh := OAuthRefresh(srv.Client(), srv.URL, "client-1", "secret-1", "refresh-1")
	tok, err := refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok.AccessToken)
	require.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)
}

func TestOAuthRefreshRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad grant", http.StatusBadRequest)
	}))
	defer srv.Close()

	refresh := OAuthRefresh(srv.Client(), srv.URL, "client-1", "secret-1", "refresh-1")
	_, err := refresh(context.Background())
	require.Error(t, err)
}
