package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Push sends the current metrics to a Pushgateway. One-shot CLI runs use it
// since nothing scrapes them.
func Push(ctx context.Context, gatewayURL, job string) error {
	if !enabled || gatewayURL == "" {
		return nil
	}
	pusher := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer)
	if serviceName != "" {
		pusher = pusher.Grouping("service", serviceName)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics: %w", err)
	}
	return nil
}
