package doctor

import (
	"context"
	"fmt"
	"time"
)

// Pinger probes the chat service.
type Pinger interface {
	Health(ctx context.Context) error
}

// ServerCheck probes the chat service health endpoint.
type ServerCheck struct {
	client Pinger
	url    string
}

// NewServerCheck creates a new server connectivity check. client may be nil
// when no configuration was loaded.
func NewServerCheck(client Pinger, url string) *ServerCheck {
	return &ServerCheck{client: client, url: url}
}

func (c *ServerCheck) Name() string {
	return "Server"
}

func (c *ServerCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	if c.client == nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "Connectivity",
			Status: StatusFail,
			Detail: "no server configured",
		})
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	err := c.client.Health(probeCtx)
	elapsed := time.Since(start)

	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "Connectivity",
			Status: StatusFail,
			Detail: fmt.Sprintf("%s: %v", c.url, err),
		})
		return result
	}

	result.Items = append(result.Items, CheckItem{
		Label:  "Connectivity",
		Status: StatusPass,
		Detail: fmt.Sprintf("%s (%s)", c.url, elapsed.Round(time.Millisecond)),
	})

	if elapsed > 2*time.Second {
		result.Items = append(result.Items, CheckItem{
			Label:  "Latency",
			Status: StatusWarn,
			Detail: "health probe took over 2s; realtime may be degraded",
		})
	}

	return result
}
