package metrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Push sends the default registry to a Pushgateway. Short-lived CLI runs use
// it instead of exposing a scrape endpoint.
func Push(ctx context.Context, url, job string, grouping map[string]string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	if job == "" {
		job = "escrowctl"
	}
	pusher := push.New(url, job).Gatherer(prometheus.DefaultGatherer)
	for k, v := range grouping {
		pusher = pusher.Grouping(k, v)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to %s: %w", url, err)
	}
	return nil
}
