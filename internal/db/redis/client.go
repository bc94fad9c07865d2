// Package redis implements db.Store on Redis 8 with the query engine module,
// using rueidis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/listingsearch/internal/db"
)

var _ db.Store = (*Store)(nil)

// Config holds connection parameters for the index store.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int
	// DialTimeout bounds connection establishment. Default: rueidis' own.
	DialTimeout time.Duration
	// WriteTimeout bounds a single command write and doubles as the
	// keepalive failure threshold. Default: rueidis' own.
	WriteTimeout time.Duration
}

// Store is the index store backed by a rueidis client.
type Store struct {
	client rueidis.Client
}

// NewStore creates the client. With a single address it never fails on
// connectivity: the client keeps redialing, so an unreachable server surfaces
// as errors on commands and in WaitForReady. Several addresses form a cluster
// seed list, which must be reachable to discover the topology.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}

	opt := rueidis.ClientOption{
		InitAddress:       cfg.Addrs,
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		DisableCache:      true,
		AlwaysRESP2:       true, // FT.SEARCH/FT.AGGREGATE replies are parsed as RESP2 arrays
		ConnWriteTimeout:  cfg.WriteTimeout,
		ForceSingleClient: len(cfg.Addrs) == 1,
	}
	if cfg.DialTimeout > 0 {
		opt.Dialer.Timeout = cfg.DialTimeout
	}
	client, err := rueidis.NewClient(opt)
	var netErr net.Error
	if err != nil && opt.ForceSingleClient && errors.As(err, &netErr) {
		// The single client is usable and dials again on the next command.
		return &Store{client: client}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return &Store{client: client}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.do(ctx, s.b().Ping().Build()).Error(); err != nil {
		return &db.Error{Op: db.OpPing, Err: err}
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

// WaitForReady pings until the store answers or timeout expires. The first
// ping is sent immediately, later ones back off up to one second apart.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	delay := 50 * time.Millisecond
	for {
		err := s.Ping(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("index store not ready after %s: %w", timeout, err)
		case <-time.After(delay):
		}
		delay = min(delay*2, time.Second)
	}
}

func (s *Store) do(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
	return s.client.Do(ctx, cmd)
}

func (s *Store) b() rueidis.Builder {
	return s.client.B()
}

// isRedisErr reports whether err is a server error reply mentioning substr,
// ignoring case.
func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(re.Error()), strings.ToLower(substr))
}
