package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Token is a bearer credential with its expiry instant.
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// RefreshFunc acquires a fresh token from the auth provider.
type RefreshFunc func(ctx context.Context) (Token, error)

// TokenSource hands out a valid bearer credential, refreshing on demand.
// Refresh is single-flight: when several in-flight operations discover expiry
// at once, exactly one refresh runs and all waiters share its result.
type TokenSource struct {
	refresh RefreshFunc
	leeway  time.Duration

	mu      sync.Mutex
	current Token
	group   singleflight.Group
}

// NewTokenSource wraps a RefreshFunc. Tokens are renewed leeway ahead of expiry.
func NewTokenSource(refresh RefreshFunc) *TokenSource {
	return &TokenSource{refresh: refresh, leeway: 30 * time.Second}
}

// Bearer returns a token valid at the time of the call.
func (s *TokenSource) Bearer(ctx context.Context) (string, error) {
	s.mu.Lock()
	tok := s.current
	s.mu.Unlock()

	if tok.AccessToken != "" && time.Until(tok.Expiry) > s.leeway {
		return tok.AccessToken, nil
	}

	// The refresh result is shared by every waiter, so it must not run on
	// any single caller's context: one cancelled request would fail them all.
	refreshCtx := context.WithoutCancel(ctx)
	result, err, _ := s.group.Do("refresh", func() (interface{}, error) {
		fresh, err := s.refresh(refreshCtx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.current = fresh
		s.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return "", fmt.Errorf("token refresh: %w", err)
	}
	return result.(Token).AccessToken, nil
}

// OAuthRefresh returns a RefreshFunc that exchanges a long-lived refresh
// token at an OAuth token endpoint.
func OAuthRefresh(httpClient *http.Client, tokenURL, clientID, clientSecret, refreshToken string) RefreshFunc {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return func(ctx context.Context) (Token, error) {
		form := url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
			"refresh_token": {refreshToken},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return Token{}, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := httpClient.Do(req)
		if err != nil {
			return Token{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return Token{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}

		var payload struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int    `json:"expires_in"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return Token{}, err
		}
		if payload.AccessToken == "" {
			return Token{}, fmt.Errorf("token endpoint returned empty access token")
		}
		return Token{
			AccessToken: payload.AccessToken,
			Expiry:      time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
		}, nil
	}
}
