// Package brokerage manages the securities Open API access token and fetches
// the K200 futures quote that depends on it.
package brokerage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"github.com/minsuk-ha/sentinel/internal/logger"
	"github.com/minsuk-ha/sentinel/internal/models"
)

// ErrAuth marks a failed authentication with no usable token left.
var ErrAuth = errors.New("brokerage authentication failed")

// State is the token lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateValid
	StateExpiring
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateValid:
		return "VALID"
	case StateExpiring:
		return "EXPIRING"
	case StateRefreshing:
		return "REFRESHING"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Authenticator performs one client-credentials exchange.
type Authenticator interface {
	Authenticate(ctx context.Context) (models.AccessToken, error)
}

// Health is a snapshot of the token manager for the health endpoint.
type Health struct {
	State               string    `json:"state"`
	Valid               bool      `json:"valid"`
	ExpiresAt           time.Time `json:"expires_at,omitzero"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	BackoffUntil        time.Time `json:"backoff_until,omitzero"`
}

// TokenManager owns the single shared access token. Reads are cheap; the
// refresh path is coalesced so concurrent callers share one in-flight
// authentication instead of issuing duplicates.
type TokenManager struct {
	auth        Authenticator
	refreshSkew time.Duration
	now         func() time.Time

	mu                  sync.RWMutex
	token               models.AccessToken
	refreshing          bool
	consecutiveFailures int
	backoffUntil        time.Time

	group singleflight.Group
}

// NewTokenManager builds a manager that refreshes refreshSkew before expiry.
func NewTokenManager(auth Authenticator, refreshSkew time.Duration) *TokenManager {
	return &TokenManager{
		auth:        auth,
		refreshSkew: refreshSkew,
		now:         time.Now,
	}
}

// SetClock injects a deterministic clock for tests.
func (m *TokenManager) SetClock(now func() time.Time) { m.now = now }

// usable reports whether tok can still be handed out at now, i.e. it is
// valid and not yet inside the proactive refresh window.
func (m *TokenManager) usable(tok models.AccessToken, now time.Time) bool {
	return tok.Valid(now) && now.Add(m.refreshSkew).Before(tok.ExpiresAt)
}

// Token returns a valid access token, triggering a coalesced refresh when
// the current one is missing, expired, or inside the refresh window.
func (m *TokenManager) Token(ctx context.Context) (models.AccessToken, error) {
	m.mu.RLock()
	tok := m.token
	now := m.now()
	m.mu.RUnlock()
	if m.usable(tok, now) {
		return tok, nil
	}
	return m.refresh(ctx, false)
}

// Refresh forces a re-authentication regardless of the current token.
func (m *TokenManager) Refresh(ctx context.Context) (models.AccessToken, error) {
	return m.refresh(ctx, true)
}

func (m *TokenManager) refresh(ctx context.Context, force bool) (models.AccessToken, error) {
	v, err, _ := m.group.Do("refresh", func() (any, error) {
		m.mu.Lock()
		now := m.now()
		// A caller that queued behind an in-flight refresh sees the fresh
		// token here and returns without another round trip.
		if !force && m.usable(m.token, now) {
			tok := m.token
			m.mu.Unlock()
			return tok, nil
		}
		if now.Before(m.backoffUntil) {
			tok := m.token
			until := m.backoffUntil
			m.mu.Unlock()
			if tok.Valid(now) {
				return tok, nil
			}
			return models.AccessToken{}, fmt.Errorf("%w: in backoff until %s", ErrAuth, until.Format(time.RFC3339))
		}
		m.refreshing = true
		m.mu.Unlock()

		newTok, authErr := m.auth.Authenticate(ctx)

		m.mu.Lock()
		defer m.mu.Unlock()
		m.refreshing = false
		now = m.now()
		if authErr != nil {
			m.consecutiveFailures++
			backoff := backoffFor(m.consecutiveFailures)
			m.backoffUntil = now.Add(backoff)
			logger.Error("token refresh failed (%d consecutive): %v; next attempt after %s",
				m.consecutiveFailures, authErr, backoff)
			// A still-valid token survives a failed proactive refresh.
			if m.token.Valid(now) {
				return m.token, nil
			}
			return models.AccessToken{}, fmt.Errorf("%w: %v", ErrAuth, authErr)
		}
		m.token = newTok
		m.consecutiveFailures = 0
		m.backoffUntil = time.Time{}
		logger.Info("access token refreshed, expires at %s", newTok.ExpiresAt.Format(time.RFC3339))
		return newTok, nil
	})
	if err != nil {
		return models.AccessToken{}, err
	}
	return v.(models.AccessToken), nil
}

// backoffFor grows 1m, 3m, 9m, 27m and caps at one hour.
func backoffFor(failures int) time.Duration {
	d := time.Minute
	for i := 1; i < failures && d < time.Hour; i++ {
		d *= 3
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

// Health reports the current lifecycle state.
func (m *TokenManager) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	h := Health{
		Valid:               m.token.Valid(now),
		ExpiresAt:           m.token.ExpiresAt,
		ConsecutiveFailures: m.consecutiveFailures,
		BackoffUntil:        m.backoffUntil,
	}
	switch {
	case m.refreshing:
		h.State = StateRefreshing.String()
	case m.token.Value == "":
		h.State = StateUninitialized.String()
	case !m.token.Valid(now):
		h.State = StateUninitialized.String()
	case !m.usable(m.token, now):
		h.State = StateExpiring.String()
	default:
		h.State = StateValid.String()
	}
	return h
}

// StartAutoRefresh runs proactive refreshes ahead of expiry until ctx is
// cancelled. With a 24-hour token and a 1-hour skew this fires at the
// 23-hour mark, so callers never observe an expired token.
func (m *TokenManager) StartAutoRefresh(ctx context.Context) {
	go func() {
		if _, err := m.Token(ctx); err != nil {
			logger.Warn("initial token fetch failed: %v", err)
		}
		for {
			m.mu.RLock()
			tok := m.token
			m.mu.RUnlock()

			wait := time.Minute
			if tok.Valid(m.now()) {
				wait = tok.ExpiresAt.Sub(m.now()) - m.refreshSkew
				if wait < time.Minute {
					wait = time.Minute
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				if _, err := m.refresh(ctx, true); err != nil {
					logger.Warn("scheduled token refresh failed: %v", err)
				}
			}
		}
	}()
}

// RESTAuthenticator exchanges app credentials for an access token using the
// form-urlencoded client-credentials grant the Open API expects.
type RESTAuthenticator struct {
	http *resty.Client
	key  string
	sec  string
}

// NewRESTAuthenticator builds an authenticator against the brokerage host.
// Credentials are trimmed: stray newlines in injected secrets are a known
// way to corrupt the request.
func NewRESTAuthenticator(baseURL, appKey, appSecret string, timeout time.Duration) *RESTAuthenticator {
	http := resty.New().
		SetBaseURL(strings.TrimRight(strings.TrimSpace(baseURL), "/")).
		SetTimeout(timeout)
	return &RESTAuthenticator{
		http: http,
		key:  strings.TrimSpace(appKey),
		sec:  strings.TrimSpace(appSecret),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Authenticate performs the client-credentials exchange.
func (a *RESTAuthenticator) Authenticate(ctx context.Context) (models.AccessToken, error) {
	var body tokenResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8").
		SetFormData(map[string]string{
			"grant_type": "client_credentials",
			"appkey":     a.key,
			"appsecret":  a.sec,
		}).
		SetResult(&body).
		Post("/oauth2/token")
	if err != nil {
		return models.AccessToken{}, fmt.Errorf("token request failed: %w", err)
	}
	if resp.IsError() {
		return models.AccessToken{}, fmt.Errorf("token request rejected: %d %s", resp.StatusCode(), resp.String())
	}
	if body.AccessToken == "" {
		return models.AccessToken{}, errors.New("token response missing access_token")
	}
	expiresIn := body.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 86400 // API default: 24 hours
	}
	return models.AccessToken{
		Value:     body.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}
