package valkey

import (
	"context"
	"fmt"

	"github.com/valkey-io/valkey-go"
)

// New creates a Valkey (Redis-compatible) client shared by the geo index and
// the session store.
func New(addr string) (valkey.Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return client, nil
}

// Ping checks that the server answers.
func Ping(ctx context.Context, client valkey.Client) error {
	return client.Do(ctx, client.B().Ping().Build()).Error()
}
