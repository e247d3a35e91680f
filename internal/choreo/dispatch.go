package choreo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pitabwire/util"
)

// Dispatch errors.
var (
	ErrUnknownActionType = errors.New("unknown action type")
	ErrMissingTopic      = errors.New("action config missing topic")
	ErrMissingURL        = errors.New("action config missing url")
)

// DefaultDispatchTimeout bounds webhook and HTTP actions so a hung endpoint
// cannot stall the pipeline; failures surface quickly and flow to the DLQ.
const DefaultDispatchTimeout = 30 * time.Second

// BusPublisher is the outbound bus port. Key may be empty for unkeyed
// publishes; keyed publishes inherit the bus's per-partition ordering.
type BusPublisher interface {
	Publish(ctx context.Context, topic, key string, body []byte) error
}

// QueueBusPublisher adapts the frame queue manager's generic publish to the
// BusPublisher port. The partition key rides in message headers.
//
// Usage: publisher := choreo.NewQueueBusPublisher(svc.QueueManager().Publish)
type QueueBusPublisher struct {
	publishFunc func(ctx context.Context, queueName string, payload any, headers ...map[string]string) error
}

// NewQueueBusPublisher wraps a frame-style publish function.
func NewQueueBusPublisher(
	publishFunc func(ctx context.Context, queueName string, payload any, headers ...map[string]string) error,
) *QueueBusPublisher {
	return &QueueBusPublisher{publishFunc: publishFunc}
}

// Publish implements BusPublisher.
func (p *QueueBusPublisher) Publish(ctx context.Context, topic, key string, body []byte) error {
	var headers map[string]string
	if key != "" {
		headers = map[string]string{"partition_key": key}
	}
	return p.publishFunc(ctx, topic, body, headers)
}

// HTTPDoer is the outbound HTTP port, satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Dispatcher executes a rule's action against its decoded config. Every
// failure mode (bad config, serialization, transport, non-2xx) is returned
// as an error the engine converts into a DLQ entry.
type Dispatcher struct {
	bus  BusPublisher
	http HTTPDoer
}

// NewDispatcher creates a dispatcher. A nil httpClient falls back to a
// default client with DefaultDispatchTimeout.
func NewDispatcher(bus BusPublisher, httpClient HTTPDoer) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultDispatchTimeout}
	}
	return &Dispatcher{
		bus:  bus,
		http: httpClient,
	}
}

// Dispatch executes one action for one event.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	actionType ActionType,
	config map[string]any,
	event *IncomingEvent,
) error {
	switch actionType {
	case ActionKafka:
		return d.dispatchBus(ctx, config, event)
	case ActionWebhook:
		return d.dispatchWebhook(ctx, config, event)
	case ActionHTTP:
		return d.dispatchHTTP(ctx, config, event)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownActionType, actionType)
	}
}

// dispatchBus publishes the event payload to the configured bus topic, keyed
// by the config key or the event id.
func (d *Dispatcher) dispatchBus(ctx context.Context, config map[string]any, event *IncomingEvent) error {
	topic := configString(config, "topic")
	if topic == "" {
		return ErrMissingTopic
	}

	key := configString(config, "key")
	if key == "" {
		key = event.EventID
	}

	body, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if publishErr := d.bus.Publish(ctx, topic, key, body); publishErr != nil {
		return fmt.Errorf("publish to %s: %w", topic, publishErr)
	}

	util.Log(ctx).Debug("dispatched bus action", "topic", topic, "key", key)
	return nil
}

// dispatchWebhook POSTs the whole event as JSON. Webhook consumers get the
// full envelope, not just the payload.
func (d *Dispatcher) dispatchWebhook(ctx context.Context, config map[string]any, event *IncomingEvent) error {
	url := configString(config, "url")
	if url == "" {
		return ErrMissingURL
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return d.send(ctx, http.MethodPost, url, nil, body)
}

// dispatchHTTP issues the configured method with the event payload as JSON
// body, custom headers merged over the JSON content type.
func (d *Dispatcher) dispatchHTTP(ctx context.Context, config map[string]any, event *IncomingEvent) error {
	url := configString(config, "url")
	if url == "" {
		return ErrMissingURL
	}

	method := configString(config, "method")
	if method == "" {
		method = http.MethodPost
	}

	headers := configHeaders(config, "headers")

	body, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	return d.send(ctx, method, url, headers, body)
}

func (d *Dispatcher) send(ctx context.Context, method, url string, headers map[string]string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %d", method, url, resp.StatusCode)
	}

	return nil
}

// configString reads a string field from a decoded action config.
func configString(config map[string]any, key string) string {
	if config == nil {
		return ""
	}
	if s, ok := config[key].(string); ok {
		return s
	}
	return ""
}

// configHeaders reads a header map, tolerating the map[string]any shape JSON
// decoding produces.
func configHeaders(config map[string]any, key string) map[string]string {
	if config == nil {
		return nil
	}

	switch raw := config[key].(type) {
	case map[string]string:
		return raw
	case map[string]any:
		headers := make(map[string]string, len(raw))
		for name, value := range raw {
			if s, ok := value.(string); ok {
				headers[name] = s
			} else {
				headers[name] = fmt.Sprint(value)
			}
		}
		return headers
	default:
		return nil
	}
}
