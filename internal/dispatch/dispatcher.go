// internal/dispatch/dispatcher.go
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"botgate/internal/token"
	"botgate/pkg/faults"
	"botgate/pkg/metrics"
	"botgate/pkg/tenants"
)

// Result is a normalized upstream response. A non-2xx upstream status is a
// valid Result, not a dispatch failure: how to narrate it is the caller's
// call.
type Result struct {
	Status int
	JSON   any    // set when the upstream declared a JSON content type
	Text   string // raw body otherwise
}

// OK reports whether the upstream answered with a 2xx.
func (r Result) OK() bool { return r.Status/100 == 2 }

// Summary renders the result as a short deterministic string for answer
// composition.
func (r Result) Summary() string {
	if r.JSON != nil {
		b, err := json.Marshal(r.JSON)
		if err == nil {
			return string(b)
		}
	}
	return strings.TrimSpace(r.Text)
}

// Dispatcher forwards authorized actions to the bot's first-party API on the
// user's behalf. It never holds a service credential: the caller's own
// verified token is the only credential attached.
type Dispatcher struct {
	client *http.Client
}

func New() *Dispatcher {
	return &Dispatcher{client: &http.Client{Timeout: 15 * time.Second}}
}

// NewWithClient injects the HTTP client (tests).
func NewWithClient(c *http.Client) *Dispatcher { return &Dispatcher{client: c} }

// Dispatch performs one upstream call. Preconditions (token verified, policy
// permitted) are the orchestrator's job; the audience re-check here is
// defense in depth against a verifier instance reused across bots.
func (d *Dispatcher) Dispatch(ctx context.Context, bot tenants.Bot, principal token.Principal, endpoint, method string, payload json.RawMessage) (Result, error) {
	if bot.Audience != "" && !containsAudience(principal.Audience, bot.Audience) {
		return Result{}, faults.New(faults.AudienceBad, "token audience does not match this bot")
	}
	if bot.UpstreamBaseURL == "" {
		return Result{}, faults.New(faults.InputInvalid, "bot has no upstream API configured")
	}
	if !strings.HasPrefix(endpoint, "/") {
		return Result{}, faults.New(faults.InputInvalid, "endpoint must be a rooted path")
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodPost
	}

	fullURL := strings.TrimRight(bot.UpstreamBaseURL, "/") + endpoint
	var body io.Reader
	if method != http.MethodGet && len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return Result{}, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+principal.Raw)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		metrics.Dispatches.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("upstream unreachable: %w", err)
	}
	defer resp.Body.Close()
	metrics.Dispatches.WithLabelValues(statusClass(resp.StatusCode)).Inc()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	res := Result{Status: resp.StatusCode}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err == nil {
			res.JSON = parsed
			return res, nil
		}
	}
	res.Text = string(raw)
	return res, nil
}

func containsAudience(have []string, want string) bool {
	for _, a := range have {
		if a == want {
			return true
		}
	}
	return false
}

func statusClass(code int) string {
	switch code / 100 {
	case 2:
		return "2xx"
	case 4:
		return "4xx"
	case 5:
		return "5xx"
	default:
		return "other"
	}
}
