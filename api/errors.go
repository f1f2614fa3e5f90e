package api

import (
	"net/http"
	"strings"

	clienterrors "github.com/confscout/go-client/internal/errors"
)

// classifyStatus maps an HTTP response onto the client error taxonomy.
// body carries the server's message for validation failures.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return clienterrors.ErrUnauthorized
	case status == http.StatusForbidden:
		return clienterrors.ErrForbidden
	case status >= 500:
		return clienterrors.Wrapf(clienterrors.ErrTransient, "server returned %d", status)
	default:
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return clienterrors.Wrapf(clienterrors.ErrValidation, "%s", msg)
	}
}
