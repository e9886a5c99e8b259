package host

import (
	"errors"
	"fmt"
	"net"
)

// Config is the configuration of the libp2p node carrying ReqResp streams.
type Config struct {
	IPAddr    net.IP `yaml:"ipAddr"`
	TCPPort   int    `yaml:"tcpPort"`
	PrivKey   string `yaml:"privKey"`
	UserAgent string `yaml:"userAgent"`
}

// DefaultConfig listens on every interface on the consensus p2p port.
func DefaultConfig() Config {
	return Config{
		IPAddr:    net.IPv4zero,
		TCPPort:   9000,
		UserAgent: "ethpandaops/reqresp",
	}
}

// Validate validates the host config.
func (c *Config) Validate() error {
	if c.IPAddr == nil {
		return errors.New("ipAddr is required")
	}

	if c.IPAddr.To4() == nil {
		return fmt.Errorf("ipAddr %s is not an IPv4 address", c.IPAddr)
	}

	if c.TCPPort < 0 || c.TCPPort > 65535 {
		return fmt.Errorf("tcpPort %d out of range", c.TCPPort)
	}

	return nil
}
