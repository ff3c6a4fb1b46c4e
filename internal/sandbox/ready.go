package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// readyProbeTimeout bounds how long a spawned server gets to come up.
const readyProbeTimeout = 60 * time.Second

// waitReachable polls url until it answers any HTTP response, the process
// exits, or the deadline passes. A dev server that responds with an error
// status still counts as reachable.
func waitReachable(ctx context.Context, url string, procDone <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, readyProbeTimeout)
	defer cancel()

	// A dead server process ends the probe early.
	go func() {
		select {
		case <-procDone:
			cancel()
		case <-ctx.Done():
		}
	}()

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 240
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = 2 * time.Second
	// Any HTTP response means the server is up; only retry connect errors.
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		select {
		case <-procDone:
			return fmt.Errorf("server process exited before %s became reachable", url)
		default:
		}
		return fmt.Errorf("server at %s not reachable: %w", url, err)
	}
	resp.Body.Close()
	return nil
}
