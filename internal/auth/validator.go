package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dovakin0007.com/private-notes/internal/models"
	"github.com/hashicorp/go-cleanhttp"
)

// UserPath is the identity provider endpoint that resolves an access token
// to its user.
const UserPath = "/auth/v1/user"

var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrMisconfigured = errors.New("identity provider URL or key is missing")
)

// TokenValidator resolves a bearer token to the user it was issued for.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*models.User, error)
}

type ProviderConfig struct {
	URL        string
	AnonKey    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// ProviderValidator asks the identity provider who a token belongs to. It
// keeps no session and caches nothing; every call is one round trip.
type ProviderValidator struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

func NewProviderValidator(cfg ProviderConfig) *ProviderValidator {
	client := cfg.HTTPClient
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
		if cfg.Timeout > 0 {
			client.Timeout = cfg.Timeout
		}
	}
	return &ProviderValidator{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		anonKey:    strings.TrimSpace(cfg.AnonKey),
		httpClient: client,
	}
}

type providerUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (v *ProviderValidator) ValidateToken(ctx context.Context, token string) (*models.User, error) {
	if v.baseURL == "" || v.anonKey == "" {
		return nil, ErrMisconfigured
	}
	if token == "" {
		return nil, ErrInvalidToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+UserPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request", ErrInvalidToken)
	}
	req.Header.Set("apikey", v.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		// The transport error may quote the request; it is not wrapped.
		return nil, fmt.Errorf("%w: identity provider unreachable", ErrInvalidToken)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: identity provider returned %d", ErrInvalidToken, resp.StatusCode)
	}

	var u providerUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&u); err != nil {
		return nil, fmt.Errorf("%w: undecodable user", ErrInvalidToken)
	}
	if u.ID == "" {
		return nil, fmt.Errorf("%w: no user resolved", ErrInvalidToken)
	}
	return &models.User{ID: u.ID, Email: u.Email}, nil
}
