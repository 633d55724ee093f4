// Package milvus indexes patient embeddings for nearest-patient lookup.
package milvus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/RuoyuGao1/cancer-system/internal/config"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// MilvusClientFactory creates an SDK client.
type MilvusClientFactory func(ctx context.Context, conf client.Config) (client.Client, error)

// milvusNewClient is swapped in tests.
var milvusNewClient MilvusClientFactory = client.NewClient

var (
	ErrConnectionFailed = errors.New(errors.CodeSearchError, "milvus connection failed")
	ErrUnhealthy        = errors.New(errors.CodeSearchError, "milvus unhealthy")
)

const (
	connectTimeout   = 10 * time.Second
	keepAliveTime    = 60 * time.Second
	keepAliveTimeout = 20 * time.Second
)

// Client owns the SDK connection.
type Client struct {
	milvusClient client.Client
	config       config.MilvusConfig
	logger       logging.Logger
	healthy      atomic.Bool
	closed       atomic.Bool
	mu           sync.RWMutex
}

// NewClient connects and verifies server health.
func NewClient(cfg config.MilvusConfig, logger logging.Logger) (*Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	mc, err := milvusNewClient(ctx, client.Config{
		Address:  cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.DBName,
		DialOptions: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                keepAliveTime,
				Timeout:             keepAliveTimeout,
				PermitWithoutStream: true,
			}),
		},
	})
	if err != nil {
		return nil, ErrConnectionFailed.WithDetailf("addr=%s", cfg.Addr).WithCause(err)
	}

	c := NewClientWithSDK(mc, cfg, logger)
	if err := c.CheckHealth(ctx); err != nil {
		_ = c.Close()
		return nil, ErrConnectionFailed.WithDetailf("addr=%s", cfg.Addr).WithCause(err)
	}

	logger.Info("Milvus client connected", logging.String("address", cfg.Addr))
	return c, nil
}

// NewClientWithSDK wraps an existing SDK client.
func NewClientWithSDK(mc client.Client, cfg config.MilvusConfig, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Client{milvusClient: mc, config: cfg, logger: logger}
}

// CheckHealth asks the server for its state.
func (c *Client) CheckHealth(ctx context.Context) error {
	mc := c.GetMilvusClient()
	if mc == nil {
		return ErrConnectionFailed
	}
	state, err := mc.CheckHealth(ctx)
	if err != nil {
		c.healthy.Store(false)
		c.logger.Warn("Milvus health check failed", logging.Err(err))
		return ErrUnhealthy.WithCause(err)
	}
	if state != nil && !state.IsHealthy {
		c.healthy.Store(false)
		return ErrUnhealthy.WithDetailf("reasons=%v", state.Reasons)
	}
	c.healthy.Store(true)
	return nil
}

// IsHealthy reports the last health check result.
func (c *Client) IsHealthy() bool {
	return c.healthy.Load()
}

// GetMilvusClient returns the SDK client.
func (c *Client) GetMilvusClient() client.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.milvusClient
}

// Close releases the connection. Closing twice is a no-op.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.milvusClient != nil {
		err = c.milvusClient.Close()
	}
	c.logger.Info("Milvus client closed")
	return err
}

// ValidateConfig requires an address and a collection name.
func ValidateConfig(cfg config.MilvusConfig) error {
	if cfg.Addr == "" {
		return errors.New(errors.CodeInvalidParam, "milvus address is required")
	}
	if cfg.Collection == "" {
		return errors.New(errors.CodeInvalidParam, "milvus collection is required")
	}
	return nil
}
