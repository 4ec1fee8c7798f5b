// Package telemetry provides OpenTelemetry instrumentation for crmflow.
package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Config holds telemetry settings.
type Config struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string

	// Protocol selects the OTLP transport: "grpc" or "http/protobuf".
	Protocol string

	// Insecure disables TLS. Only allowed for local endpoints.
	Insecure bool

	// SampleRate is the trace sampling ratio in [0, 1].
	SampleRate float64

	ExportInterval  time.Duration
	ShutdownTimeout time.Duration
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if !c.Enabled {
		return nil
	}

	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "dev"
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}

	switch c.Protocol {
	case "":
		c.Protocol = "grpc"
	case "grpc", "http/protobuf":
	default:
		return fmt.Errorf("invalid protocol %q (expected grpc or http/protobuf)", c.Protocol)
	}

	// Plaintext export must not leave the host.
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; set insecure=false for TLS or use a local endpoint (localhost/127.0.0.1)")
	}

	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1, got %f", c.SampleRate)
	}

	if c.ExportInterval <= 0 {
		c.ExportInterval = 15 * time.Second
	}

	return nil
}

// isLocalEndpoint checks if the endpoint is a local address.
func (c *Config) isLocalEndpoint() bool {
	host := c.Endpoint

	// Handle IPv6 addresses (may be bracketed like [::1]:4317)
	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]:"); idx != -1 {
			host = host[1:idx]
		} else if strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	} else if strings.Count(host, ":") == 1 {
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
	}

	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(c.Endpoint, "::1")
}
