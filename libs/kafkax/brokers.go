// Package kafkax holds the Kafka plumbing shared by producers in this repo:
// broker list parsing, readiness probing, and trace-context propagation on
// message headers.
package kafkax

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// SplitBrokers parses a comma-separated broker list, dropping empty entries.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, part := range strings.Split(raw, ",") {
		if b := strings.TrimSpace(part); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// ReadyCheck probes the first broker with a short-lived TCP dial.
func ReadyCheck(brokers string) func(context.Context) error {
	return func(ctx context.Context) error {
		list := SplitBrokers(brokers)
		if len(list) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", list[0])
		if err != nil {
			return fmt.Errorf("dial broker %s: %w", list[0], err)
		}
		return conn.Close()
	}
}
