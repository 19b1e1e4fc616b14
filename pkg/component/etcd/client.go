// Package etcd provides the etcd connection used by the etcd wake store.
package etcd

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"

	options "github.com/kart-io/sentinel-agent/pkg/options/etcd"
	"github.com/kart-io/sentinel-agent/pkg/storage"
)

// Client wraps an etcd v3 client.
type Client struct {
	client *clientv3.Client
	opts   *options.Options
}

// Compile-time check that Client implements storage.Client.
var _ storage.Client = (*Client)(nil)

// NewWithContext validates opts, connects and verifies the cluster answers.
func NewWithContext(ctx context.Context, opts *options.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("etcd options cannot be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
		Username:    opts.Username,
		Password:    opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	c := &Client{
		client: cli,
		opts:   opts,
	}
	if err := c.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return c, nil
}

// Name returns the storage type identifier.
func (c *Client) Name() string {
	return "etcd"
}

// Ping reads a key that never exists; only the cluster's answer matters.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	if _, err := c.client.Get(ctx, c.opts.Prefix+"__ping__"); err != nil {
		return fmt.Errorf("etcd ping failed: %w", err)
	}
	return nil
}

// Close closes the etcd client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Raw returns the underlying etcd client.
func (c *Client) Raw() *clientv3.Client {
	return c.client
}

// Prefix returns the configured key namespace.
func (c *Client) Prefix() string {
	return c.opts.Prefix
}
