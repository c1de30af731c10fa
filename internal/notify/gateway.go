package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Typed delivery failures the gateway reports per token. The first three
// identify a stale token the fanout self-heals from; anything else is a
// transient delivery problem.
var (
	ErrTokenNotRegistered = errors.New("push token not registered")
	ErrTokenMalformed     = errors.New("push token malformed")
	ErrTokenMismatch      = errors.New("push token belongs to another project")

	// ErrDeliveryFailed marks a best-effort push that could not be
	// classified as a token problem. Log-only; never rolls anything back.
	ErrDeliveryFailed = errors.New("notification delivery failed")
)

// Gateway is the external push delivery service.
type Gateway interface {
	Push(ctx context.Context, token, title, body string, data map[string]string) error
}

// HTTPGateway talks to an Expo-style push endpoint.
type HTTPGateway struct {
	url    string
	client *http.Client
}

func NewHTTPGateway(url string) *HTTPGateway {
	return &HTTPGateway{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type pushRequest struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type pushResponse struct {
	Data []struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Details struct {
			Error string `json:"error"`
		} `json:"details"`
	} `json:"data"`
}

func (g *HTTPGateway) Push(ctx context.Context, token, title, body string, data map[string]string) error {
	payload, err := json.Marshal(pushRequest{To: token, Title: title, Body: body, Data: data})
	if err != nil {
		return fmt.Errorf("push encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("push send: %w", err)
	}
	defer resp.Body.Close()

	var parsed pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("push gateway returned status %d: %w", resp.StatusCode, err)
	}

	for _, r := range parsed.Data {
		if r.Status == "error" {
			return classify(r.Details.Error, r.Message)
		}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}
	return nil
}

func classify(code, message string) error {
	switch code {
	case "DeviceNotRegistered":
		return ErrTokenNotRegistered
	case "InvalidToken", "MalformedToken":
		return ErrTokenMalformed
	case "MismatchSenderId", "InvalidCredentials":
		return ErrTokenMismatch
	default:
		return fmt.Errorf("push gateway error %s: %s", code, message)
	}
}

// isStaleToken reports whether the delivery error identifies a token the
// fanout should clear.
func isStaleToken(err error) bool {
	return errors.Is(err, ErrTokenNotRegistered) ||
		errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrTokenMismatch)
}
