//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go/modules/redpanda"
)

const redpandaImage = "docker.redpanda.com/redpandadata/redpanda:v24.2.4"

// RedpandaContainer is a single-node Kafka-compatible broker.
type RedpandaContainer struct {
	Broker string
}

func NewRedpandaContainer(t *testing.T) *RedpandaContainer {
	t.Helper()
	ctx := context.Background()

	c, err := redpanda.Run(ctx, redpandaImage, redpanda.WithAutoCreateTopics())
	c = started(t, "redpanda", c, err)

	broker, err := c.KafkaSeedBroker(ctx)
	check(t, "redpanda seed broker", err)
	return &RedpandaContainer{Broker: broker}
}
