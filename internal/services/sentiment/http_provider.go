package sentiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	domsvc "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/service"
	upstream "github.com/RichedYu/glm-crypto-trading-platform/internal/service/metrics"
	"github.com/RichedYu/glm-crypto-trading-platform/internal/service/ratelimit"
	xhttp "github.com/RichedYu/glm-crypto-trading-platform/pkg/http"
)

const (
	sentimentPath = "/api/v1/sentiment/twitter"
	source        = "sentiment"
)

// ErrNoScore is returned when every endpoint answered without a score.
var ErrNoScore = errors.New("no sentiment score")

// HTTPProvider queries the sentiment service endpoints in order and returns
// the first weighted score. Each endpoint has its own rate limit.
type HTTPProvider struct {
	urls       []string
	maxResults int
	client     *xhttp.Client
	limiter    *ratelimit.Limiter
}

var _ domsvc.SentimentProvider = (*HTTPProvider)(nil)

type sentimentResponse struct {
	WeightedScore *float64 `json:"weighted_score"`
}

// NewHTTPProvider creates a provider. timeout bounds every single request.
func NewHTTPProvider(urls []string, maxResults int, timeout time.Duration, limiter *ratelimit.Limiter, opts ...xhttp.ClientOption) *HTTPProvider {
	if limiter == nil {
		limiter = ratelimit.New(0, 1)
	}
	opts = append([]xhttp.ClientOption{xhttp.WithTimeout(timeout)}, opts...)
	upstream.Register()
	return &HTTPProvider{
		urls:       urls,
		maxResults: maxResults,
		client:     xhttp.NewClient(opts...),
		limiter:    limiter,
	}
}

// Sentiment returns a score clamped to [-1, 1]. Failures are reported as
// *models.TransientUpstreamError.
func (p *HTTPProvider) Sentiment(ctx context.Context, query string) (float64, error) {
	if len(p.urls) == 0 {
		return 0, &models.TransientUpstreamError{Source: source, Err: fmt.Errorf("no endpoints configured")}
	}

	var lastErr error = ErrNoScore
	for _, base := range p.urls {
		if !p.limiter.Allow(base) {
			upstream.UpstreamErrors.WithLabelValues(source, "rate_limited").Inc()
			lastErr = fmt.Errorf("%s: rate limited", base)
			continue
		}

		start := time.Now()
		var resp sentimentResponse
		err := p.client.GetJSON(ctx, strings.TrimRight(base, "/")+sentimentPath, map[string][]string{
			"query":       {query},
			"max_results": {strconv.Itoa(p.maxResults)},
		}, &resp)
		upstream.UpstreamLatency.WithLabelValues(source).Observe(time.Since(start).Seconds())

		if err != nil {
			upstream.UpstreamErrors.WithLabelValues(source, reason(err)).Inc()
			lastErr = fmt.Errorf("%s: %w", base, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if resp.WeightedScore == nil || math.IsNaN(*resp.WeightedScore) {
			upstream.UpstreamErrors.WithLabelValues(source, "empty").Inc()
			lastErr = fmt.Errorf("%s: %w", base, ErrNoScore)
			continue
		}
		return math.Max(-1, math.Min(1, *resp.WeightedScore)), nil
	}
	return 0, &models.TransientUpstreamError{Source: source, Err: lastErr}
}

func reason(err error) string {
	var se *xhttp.StatusError
	switch {
	case errors.As(err, &se):
		return "status_" + strconv.Itoa(se.Code)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}
