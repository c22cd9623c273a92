package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"time"

	"registration-service/internal/util"

	"go.uber.org/zap"
)

// InProcessFunc is a hook target implemented as a registered Go function.
type InProcessFunc func(ctx context.Context, body json.RawMessage) (json.RawMessage, error)

// KafkaPublisher publishes a hook body to a topic. Satisfied by
// broker.Producer.
type KafkaPublisher interface {
	Publish(ctx context.Context, topic, key string, body []byte) error
}

// Invoker executes one hook call against a target and normalizes
// success/failure into an error return.
type Invoker struct {
	client *http.Client
	kafka  KafkaPublisher
	funcs  map[string]InProcessFunc
	logger *zap.Logger
}

// NewInvoker creates an invoker. kafka may be nil if no kafka targets are
// configured.
func NewInvoker(kafka KafkaPublisher) *Invoker {
	return &Invoker{
		client: &http.Client{Timeout: 30 * time.Second},
		kafka:  kafka,
		funcs:  make(map[string]InProcessFunc),
		logger: util.GetLogger(),
	}
}

// RegisterFunc registers an in-process hook target under a name.
func (i *Invoker) RegisterFunc(name string, fn InProcessFunc) {
	i.funcs[name] = fn
}

// Invoke delivers body to the target and returns the target's response, if
// any. Any failure is returned as an error; the caller decides retry.
func (i *Invoker) Invoke(ctx context.Context, target Target, body json.RawMessage) (json.RawMessage, error) {
	kind, err := target.Kind()
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindHTTP:
		return i.invokeHTTP(ctx, target.URL, body)
	case KindExecutable:
		return i.invokeExecutable(ctx, target, body)
	case KindKafka:
		if i.kafka == nil {
			return nil, fmt.Errorf("kafka hook target %q: no producer configured", target.Topic)
		}
		if err := i.kafka.Publish(ctx, target.Topic, "", body); err != nil {
			return nil, err
		}
		return nil, nil
	case KindFunc:
		fn, ok := i.funcs[target.Func]
		if !ok {
			return nil, fmt.Errorf("hook func %q is not registered", target.Func)
		}
		return fn(ctx, body)
	default:
		return nil, fmt.Errorf("unsupported hook target kind %q", kind)
	}
}

func (i *Invoker) invokeHTTP(ctx context.Context, url string, body json.RawMessage) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("hook returned status %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	result, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read hook response: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

func (i *Invoker) invokeExecutable(ctx context.Context, target Target, body json.RawMessage) (json.RawMessage, error) {
	cmd := exec.CommandContext(ctx, target.Executable, target.Args...)
	cmd.Stdin = bytes.NewReader(body)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("hook executable failed: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
