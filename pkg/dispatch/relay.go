package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// maxResponseBody caps how much of a relay reply is read.
const maxResponseBody = 1 << 20

// Relay posts JSON payloads to webhook relays.
type Relay struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewRelay creates a relay client. A nil client uses http.DefaultClient and a
// nil limiter disables rate limiting.
func NewRelay(client *http.Client, limiter *rate.Limiter) *Relay {
	if client == nil {
		client = http.DefaultClient
	}
	return &Relay{client: client, limiter: limiter}
}

// NewLimiter returns a token bucket limiter, or nil when perSecond is not positive.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Post sends payload as a JSON POST to url and returns the response body.
// Any non-2xx status is a *DispatchError carrying the body.
func (r *Relay) Post(ctx context.Context, action, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s payload", action)
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, &DispatchError{Action: action, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &DispatchError{Action: action, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &DispatchError{Action: action, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &DispatchError{Action: action, StatusCode: 0, Err: errors.Wrap(err, "read response")}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DispatchError{Action: action, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
