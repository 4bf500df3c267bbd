package external

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// HTTPStatsReporter is the default StatsReporter: it POSTs a StatsSnapshot
// as JSON to a fixed URL using a single shared fasthttp.Client, matching
// the pack's pattern of caching one client per purpose rather than
// building a new connection per call.
type HTTPStatsReporter struct {
	url    string
	client *fasthttp.Client
}

// NewHTTPStatsReporter builds a reporter that posts to url. A nil/empty
// url is rejected by the caller before this is ever constructed — cmd
// wiring only builds one when STATS_URL is set.
func NewHTTPStatsReporter(url string) *HTTPStatsReporter {
	return &HTTPStatsReporter{
		url: url,
		client: &fasthttp.Client{
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			MaxConnsPerHost: 2,
		},
	}
}

// Report posts snap as JSON and treats any non-2xx response as an error.
// Timing out or failing never blocks the caller past ctx's deadline; the
// rendezvous process only calls this from a background ticker.
func (r *HTTPStatsReporter) Report(ctx context.Context, snap StatsSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal stats snapshot: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}

	if err := r.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("post stats: %w", err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("post stats: unexpected status %d", code)
	}
	return nil
}
