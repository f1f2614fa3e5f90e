// Package api is the thin HTTP client for the platform REST API. It
// handles bearer authentication, JSON marshaling, and classification of
// response statuses into the client error taxonomy; everything stateful
// lives in the packages above it.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/confscout/go-client/identity"
	clienterrors "github.com/confscout/go-client/internal/errors"
	"github.com/confscout/go-client/notifications"
)

// CredentialSource yields the bearer credential of the current session,
// or "" when logged out. A func rather than a value, so requests always
// sign with the token the session holds now.
type CredentialSource func() string

// Client is the platform REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	credential CredentialSource
}

// NewClient creates a client rooted at baseURL. credential may be nil for
// a client that only performs login.
func NewClient(baseURL string, timeout time.Duration, credential CredentialSource) *Client {
	if credential == nil {
		credential = func() string { return "" }
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		credential: credential,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Identity   *identity.Identity `json:"identity"`
	Credential string             `json:"credential"`
}

// Login exchanges credentials for an identity and a bearer credential.
// Bad credentials come back as a validation error carrying the server's
// message.
func (c *Client) Login(ctx context.Context, email, password string) (*identity.Identity, string, error) {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &resp, false); err != nil {
		return nil, "", errors.Wrap(err, "[Client.Login]")
	}
	if resp.Identity == nil || resp.Identity.ID == "" || resp.Credential == "" {
		return nil, "", clienterrors.Wrapf(clienterrors.ErrTransient, "login response missing identity or credential")
	}
	return resp.Identity, resp.Credential, nil
}

// Me verifies the current credential and returns the authoritative
// identity. 401 means the session expired; 403 means the account is
// banned.
func (c *Client) Me(ctx context.Context) (*identity.Identity, error) {
	var ident identity.Identity
	if err := c.do(ctx, http.MethodGet, "/me", nil, &ident, true); err != nil {
		return nil, errors.Wrap(err, "[Client.Me]")
	}
	if ident.ID == "" {
		return nil, clienterrors.Wrapf(clienterrors.ErrTransient, "verification response missing identity")
	}
	return &ident, nil
}

// Logout invalidates the session server-side. Best effort: callers are
// expected to proceed with local teardown whatever this returns.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, true); err != nil {
		return errors.Wrap(err, "[Client.Logout]")
	}
	return nil
}

// ListNotifications fetches the full notification collection.
func (c *Client) ListNotifications(ctx context.Context) ([]notifications.Notification, error) {
	var list []notifications.Notification
	if err := c.do(ctx, http.MethodGet, "/notifications", nil, &list, true); err != nil {
		return nil, errors.Wrap(err, "[Client.ListNotifications]")
	}
	return list, nil
}

type patchRequest struct {
	IDs []string         `json:"ids"`
	Op  notifications.Op `json:"op"`
}

// PatchNotifications applies op to every id in ids server-side.
func (c *Client) PatchNotifications(ctx context.Context, ids []string, op notifications.Op) error {
	if !op.Valid() {
		return clienterrors.Wrapf(clienterrors.ErrValidation, "unknown op %q", op)
	}
	if err := c.do(ctx, http.MethodPatch, "/notifications", patchRequest{IDs: ids, Op: op}, nil, true); err != nil {
		return errors.Wrapf(err, "[Client.PatchNotifications] op %s", op)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}, authed bool) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshalling request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if cred := c.credential(); cred != "" {
			req.Header.Set("Authorization", "Bearer "+cred)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Treat a timed-out or cancelled call like any other
			// unreachable server.
			return clienterrors.Wrapf(clienterrors.ErrTransient, "%s %s: %v", method, path, ctx.Err())
		}
		return clienterrors.Wrapf(clienterrors.ErrTransient, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return clienterrors.Wrapf(clienterrors.ErrTransient, "reading response of %s %s: %v", method, path, err)
	}

	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return err
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return clienterrors.Wrapf(clienterrors.ErrTransient, "decoding response of %s %s: %v", method, path, err)
		}
	}
	return nil
}
