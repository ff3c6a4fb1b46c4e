package template

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/substratehq/playground/internal/infrastructure/resilience"
)

// RegistryClient fetches template manifests from a remote registry. The
// registry serves one JSON manifest per template at /templates/{id}.
// Calls are guarded by a circuit breaker so a down registry fails fast
// instead of stalling activations on timeouts.
type RegistryClient struct {
	http    *resty.Client
	breaker *resilience.Breaker
}

// NewRegistryClient creates a registry client for the given base URL.
func NewRegistryClient(baseURL string, timeout time.Duration) *RegistryClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &RegistryClient{
		http: client,
		breaker: resilience.New("template-registry", resilience.Settings{
			FailureThreshold: 5,
			CooldownPeriod:   30 * time.Second,
		}),
	}
}

// Resolve fetches the template with the given id.
func (c *RegistryClient) Resolve(ctx context.Context, id string) (*Template, error) {
	var tmpl *Template
	err := c.breaker.Do(func() error {
		var err error
		tmpl, err = c.fetch(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}

func (c *RegistryClient) fetch(ctx context.Context, id string) (*Template, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/templates/" + id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch template %s: %w", id, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("registry returned %s for template %s", resp.Status(), id)
	}

	tmpl, err := ParseJSON(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("registry manifest for %s: %w", id, err)
	}
	if tmpl.ID != id {
		return nil, fmt.Errorf("registry returned template %s for requested id %s", tmpl.ID, id)
	}
	return tmpl, nil
}
