package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dimitrije/mise-api/internal/models"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

type Config struct {
	BaseURL    string
	AnonKey    string
	JWTSecret  string
	HTTPClient *http.Client
}

// Client talks to a GoTrue-compatible auth REST API.
type Client struct {
	baseURL   string
	anonKey   string
	jwtSecret []byte
	http      *http.Client
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		anonKey:   cfg.AnonKey,
		jwtSecret: []byte(cfg.JWTSecret),
		http:      httpClient,
	}
}

type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

// SignUpResponse holds either a session (auto-confirmed accounts) or only the
// created user when the account still needs email confirmation.
type SignUpResponse struct {
	Session *models.Session
	User    *models.SessionUser
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.session()
}

func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", map[string]string{
		"refresh_token": refreshToken,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.session()
}

func (c *Client) SignUp(ctx context.Context, email, password string, data map[string]any) (*SignUpResponse, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodPost, "/signup", "", map[string]any{
		"email":    email,
		"password": password,
		"data":     data,
	}, &raw)
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode signup response: %w", err)
	}
	if tr.AccessToken != "" {
		session, err := tr.session()
		if err != nil {
			return nil, err
		}
		return &SignUpResponse{Session: session, User: &session.User}, nil
	}

	var ur userResponse
	if err := json.Unmarshal(raw, &ur); err != nil {
		return nil, fmt.Errorf("failed to decode signup user: %w", err)
	}
	user, err := ur.sessionUser()
	if err != nil {
		return nil, err
	}
	return &SignUpResponse{User: &user}, nil
}

// SignOut revokes the session behind accessToken. A token the service no
// longer recognizes is already signed out.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	err := c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
	if err != nil && IsUnauthorized(err) {
		return nil
	}
	return err
}

func (c *Client) RecoverPassword(ctx context.Context, email, redirectTo string) error {
	path := "/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	return c.do(ctx, http.MethodPost, path, "", map[string]string{"email": email}, nil)
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (*models.SessionUser, error) {
	var resp userResponse
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &resp); err != nil {
		return nil, err
	}
	user, err := resp.sessionUser()
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else if c.anonKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.anonKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth request %s %s failed: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return parseError(resp.StatusCode, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}
	return nil
}

func (r *tokenResponse) session() (*models.Session, error) {
	if r.AccessToken == "" {
		return nil, fmt.Errorf("auth response has no access token")
	}
	if r.User == nil {
		return nil, fmt.Errorf("auth response has no user")
	}

	user, err := r.User.sessionUser()
	if err != nil {
		return nil, err
	}

	expiry := time.Time{}
	switch {
	case r.ExpiresAt > 0:
		expiry = time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		expiry = time.Now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}

	tokenType := r.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}

	return &models.Session{
		User: user,
		Token: &oauth2.Token{
			AccessToken:  r.AccessToken,
			TokenType:    tokenType,
			RefreshToken: r.RefreshToken,
			Expiry:       expiry,
		},
	}, nil
}

func (u *userResponse) sessionUser() (models.SessionUser, error) {
	id, err := uuid.Parse(u.ID)
	if err != nil {
		return models.SessionUser{}, fmt.Errorf("invalid user id %q: %w", u.ID, err)
	}
	return models.SessionUser{
		ID:       id,
		Email:    u.Email,
		Metadata: u.UserMetadata,
	}, nil
}
