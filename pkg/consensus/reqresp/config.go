package reqresp

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/reqresp/pkg/consensus/reqresp/encoding"
)

// Config holds the timeouts and limits of the service.
type Config struct {
	// DialTimeout bounds opening a stream and negotiating its protocol.
	DialTimeout time.Duration `yaml:"dialTimeout"`
	// RequestTimeout bounds writing a request, and reading one inbound.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	// TTFBTimeout bounds the wait for the first byte of a response.
	TTFBTimeout time.Duration `yaml:"ttfbTimeout"`
	// RespTimeout bounds each response chunk, read or written.
	RespTimeout time.Duration `yaml:"respTimeout"`

	// MaxPayloadSize caps the uncompressed size of any payload.
	MaxPayloadSize uint64 `yaml:"maxPayloadSize"`

	// RateLimiting enables inbound quotas.
	RateLimiting bool `yaml:"rateLimiting"`
	// RateLimitGoodbye applies quotas to goodbye messages too. Some
	// deployments disable it so peers can always say goodbye.
	RateLimitGoodbye bool `yaml:"rateLimitGoodbye"`
}

// DefaultConfig returns the timeouts used on mainnet.
func DefaultConfig() Config {
	return Config{
		DialTimeout:      5 * time.Second,
		RequestTimeout:   5 * time.Second,
		TTFBTimeout:      5 * time.Second,
		RespTimeout:      10 * time.Second,
		MaxPayloadSize:   encoding.MaxPayloadSize,
		RateLimiting:     true,
		RateLimitGoodbye: true,
	}
}

// Validate validates the config.
func (c *Config) Validate() error {
	if c.DialTimeout <= 0 {
		return errors.New("dialTimeout must be positive")
	}

	if c.RequestTimeout <= 0 {
		return errors.New("requestTimeout must be positive")
	}

	if c.TTFBTimeout <= 0 {
		return errors.New("ttfbTimeout must be positive")
	}

	if c.RespTimeout <= 0 {
		return errors.New("respTimeout must be positive")
	}

	if c.MaxPayloadSize == 0 || c.MaxPayloadSize > encoding.MaxPayloadSize {
		return fmt.Errorf("maxPayloadSize must be between 1 and %d", encoding.MaxPayloadSize)
	}

	return nil
}
