// Package session keeps the command-line client's signed-in session on disk
// and tells subscribers when it appears or goes away.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"dovakin0007.com/private-notes/internal/models"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

// TokenPath is the identity provider endpoint for the password grant.
const TokenPath = "/auth/v1/token"

var (
	ErrNotConfigured = errors.New("NOTES_AUTH_URL and NOTES_AUTH_ANON_KEY are required to sign in")
	ErrSignInFailed  = errors.New("sign in failed")
	ErrNoSession     = errors.New("not signed in")
)

type Session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresAt    int64       `json:"expires_at"`
	User         models.User `json:"user"`
}

// Expired reports whether the access token is past its expiry. A session
// without an expiry never expires here; the server still validates it.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt > 0 && now.Unix() >= s.ExpiresAt
}

type EventKind int

const (
	SignedIn EventKind = iota + 1
	SignedOut
)

func (k EventKind) String() string {
	switch k {
	case SignedIn:
		return "signed_in"
	case SignedOut:
		return "signed_out"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind EventKind
	User *models.User
}

type Config struct {
	// Path is the session file. "~" is expanded.
	Path       string
	AuthURL    string
	AnonKey    string
	HTTPClient *http.Client
	Logger     *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager owns one session file. It is safe for concurrent use.
type Manager struct {
	path       string
	authURL    string
	anonKey    string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	subs     map[chan Event]struct{}
	signedIn bool
}

// DefaultPath returns ~/.config/private-notes/session-<host>.json, one file
// per backend so sessions for different deployments do not collide.
func DefaultPath(backendURL string) (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	host := "default"
	if u, err := url.Parse(backendURL); err == nil && u.Host != "" {
		host = strings.NewReplacer(":", "_", "/", "_").Replace(u.Host)
	}
	return filepath.Join(home, ".config", "private-notes", "session-"+host+".json"), nil
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Path == "" {
		return nil, errors.New("session file path is required")
	}
	path, err := homedir.Expand(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding %s: %w", cfg.Path, err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
		client.Timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	m := &Manager{
		path:       filepath.Clean(path),
		authURL:    strings.TrimRight(strings.TrimSpace(cfg.AuthURL), "/"),
		anonKey:    strings.TrimSpace(cfg.AnonKey),
		httpClient: client,
		logger:     logger,
		now:        now,
		subs:       make(map[chan Event]struct{}),
	}
	if s, err := m.Load(); err == nil && !s.Expired(now()) {
		m.signedIn = true
	}
	return m, nil
}

// Load reads the stored session. ErrNoSession when there is none.
func (m *Manager) Load() (*Session, error) {
	b, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if s.AccessToken == "" {
		return nil, ErrNoSession
	}
	return &s, nil
}

// AccessToken returns the current access token, or "" when there is no
// usable session.
func (m *Manager) AccessToken(ctx context.Context) string {
	if ctx.Err() != nil {
		return ""
	}
	s, err := m.Load()
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			m.logger.Debug("session unreadable", zap.Error(err))
		}
		return ""
	}
	if s.Expired(m.now()) {
		return ""
	}
	return s.AccessToken
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	User         models.User `json:"user"`
}

type providerError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e providerError) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// SignIn exchanges email and password for a session and stores it.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if m.authURL == "" || m.anonKey == "" {
		return nil, ErrNotConfigured
	}
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	endpoint := m.authURL + TokenPath + "?grant_type=password"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building sign-in request: %w", err)
	}
	req.Header.Set("apikey", m.anonKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignInFailed, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrSignInFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		var pe providerError
		if json.Unmarshal(payload, &pe) == nil && pe.text() != "" {
			return nil, fmt.Errorf("%w: %s", ErrSignInFailed, pe.text())
		}
		return nil, fmt.Errorf("%w: identity provider returned %d", ErrSignInFailed, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(payload, &tr); err != nil || tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: malformed token response", ErrSignInFailed)
	}
	s := &Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    tr.ExpiresAt,
		User:         tr.User,
	}
	if s.ExpiresAt == 0 && tr.ExpiresIn > 0 {
		s.ExpiresAt = m.now().Add(time.Duration(tr.ExpiresIn) * time.Second).Unix()
	}
	if err := m.Save(s); err != nil {
		return nil, err
	}
	m.logger.Info("signed in", zap.String("user_id", s.User.ID))
	return s, nil
}

// Save writes s with owner-only permissions. The write goes through a
// temporary file so watchers never see a partial session.
func (m *Manager) Save(s *Session) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("creating session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("securing session file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("writing session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	m.transition(!s.Expired(m.now()), &s.User)
	return nil
}

// SignOut removes the stored session. Signing out twice is not an error.
func (m *Manager) SignOut() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session: %w", err)
	}
	m.transition(false, nil)
	return nil
}

// Subscribe returns a channel of session changes and a function that
// unsubscribes and closes it. Events are dropped for a subscriber that is
// not keeping up.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// transition publishes an event only when the signed-in state changes, so
// a write seen both directly and through the watcher is reported once.
func (m *Manager) transition(signedIn bool, user *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.signedIn == signedIn {
		return
	}
	m.signedIn = signedIn

	ev := Event{Kind: SignedOut}
	if signedIn {
		ev = Event{Kind: SignedIn, User: user}
	}
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.logger.Debug("dropping session event for slow subscriber", zap.Stringer("kind", ev.Kind))
		}
	}
}
