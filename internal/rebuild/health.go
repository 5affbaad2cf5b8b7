package rebuild

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// PortResolver finds the host address a container port is published on.
type PortResolver interface {
	PublishedPort(ctx context.Context, name string, port int) (string, error)
}

// HealthPath is vaultwarden's liveness endpoint.
const HealthPath = "/alive"

// ResolveHealthURL prefers the configured URL and otherwise asks the engine
// where the service port landed.
func ResolveHealthURL(ctx context.Context, configured string, ports PortResolver, container string, port int) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if ports == nil {
		return "", fmt.Errorf("no health URL configured and no container engine to resolve one")
	}
	addr, err := ports.PublishedPort(ctx, container, port)
	if err != nil {
		return "", err
	}
	return "http://" + addr + HealthPath, nil
}

// Probe polls url until it answers 2xx or retries are used up.
func Probe(ctx context.Context, client *http.Client, url string, retries int, interval time.Duration) error {
	if retries < 1 {
		retries = 1
	}
	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("health check returned %s", resp.Status)
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(retries-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("%s unhealthy after %d attempts: %w", url, attempt, err)
	}
	return nil
}
