// Package userdirectory talks to the external user service that owns
// credentials and user profiles.
package userdirectory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/token-service/internal/models"
	"github.com/noah-isme/token-service/internal/service"
	"github.com/noah-isme/token-service/pkg/middleware/requestid"
)

const (
	verifyCredentialsPath = "/internal/users/verify-credentials"
	userByIDPath          = "/api/users/"
)

// Client is an HTTP client for the user directory.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a directory client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyCredentials asks the directory to check an email/password pair.
// A rejection is reported as service.ErrCredentialInvalid.
func (c *Client) VerifyCredentials(ctx context.Context, email, password string) (*models.UserIdentity, error) {
	body, err := json.Marshal(credentialsRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, verifyCredentialsPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeIdentity(resp.Body)
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return nil, service.ErrCredentialInvalid
	default:
		return nil, unexpectedStatus(resp)
	}
}

// GetUserByID loads a user by id. An unknown user yields (nil, nil).
func (c *Client) GetUserByID(ctx context.Context, id int64) (*models.UserIdentity, error) {
	resp, err := c.do(ctx, http.MethodGet, userByIDPath+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeIdentity(resp.Body)
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, unexpectedStatus(resp)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := requestid.FromContext(ctx); id != "" {
		req.Header.Set(requestid.Header, id)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user directory %s %s: %w", method, path, err)
	}
	c.logger.Debug("user directory call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)
	return resp, nil
}

func decodeIdentity(r io.Reader) (*models.UserIdentity, error) {
	var user models.UserIdentity
	if err := json.NewDecoder(r).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode user identity: %w", err)
	}
	return &user, nil
}

func unexpectedStatus(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("user directory returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
}
