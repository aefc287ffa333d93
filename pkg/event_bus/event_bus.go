package event_bus

import (
	"encoding/json"
	"fmt"

	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/model"
	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

const tickOutputTopic = "discovery_tick_output"

// TickBus carries the per-tick discovery summary to interested listeners.
// Payloads travel as JSON so subscribers stay decoupled from the scheduler.
type TickBus struct {
	eventBus EventBus.Bus
	logger   *zap.Logger
}

func NewTickBus(eventBus EventBus.Bus, logger *zap.Logger) *TickBus {
	return &TickBus{
		eventBus: eventBus,
		logger:   logger,
	}
}

// Subscribe registers a handler for tick summaries. Delivery is asynchronous;
// handler errors are logged, not propagated to the publisher.
func (b *TickBus) Subscribe(handler func(output model.TickOutput) error) error {
	err := b.eventBus.SubscribeAsync(
		tickOutputTopic,
		func(arg string) {
			var output model.TickOutput
			if err := json.Unmarshal([]byte(arg), &output); err != nil {
				b.logger.Error("Failed to unmarshal tick output", zap.Error(err))
				return
			}
			if err := handler(output); err != nil {
				b.logger.Error("Failed to handle tick output", zap.Error(err))
			}
		},
		false,
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to tick output: %w", err)
	}
	return nil
}

// Publish emits one tick summary.
func (b *TickBus) Publish(output model.TickOutput) error {
	outputBytes, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal tick output: %w", err)
	}
	b.eventBus.Publish(tickOutputTopic, string(outputBytes))
	return nil
}
