package gpu

import (
	"context"

	"github.com/smartflow-crm/inference-gateway/internal/backend/keyword"
)

// ClientProber adapts the keyword backend client to the Prober
// interface.
type ClientProber struct {
	client *keyword.Client
}

// NewClientProber wraps a keyword backend client.
func NewClientProber(client *keyword.Client) *ClientProber {
	return &ClientProber{client: client}
}

func (p *ClientProber) Health(ctx context.Context) (Status, error) {
	status, err := p.client.Health(ctx)
	if err != nil {
		return StatusUnreachable, err
	}
	switch status.Status {
	case "healthy":
		return StatusHealthy, nil
	case "sleeping":
		return StatusSleeping, nil
	default:
		return StatusUnknown, nil
	}
}

func (p *ClientProber) Wake(ctx context.Context) error {
	return p.client.Wake(ctx)
}
