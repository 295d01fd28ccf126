package config

import "time"

const (
	DefaultUpstreamTimeout = 120 * time.Second
	DefaultProbeTimeout    = 5 * time.Second
	DefaultAgentPort       = 18789
	DefaultAgentColor      = "#3B82F6"
)

// GetUpstreamTimeout returns the ceiling for one complete upstream chat exchange
func GetUpstreamTimeout() time.Duration {
	return parseEnvDuration("UPSTREAM_TIMEOUT", DefaultUpstreamTimeout)
}

// GetProbeTimeout returns the ceiling for a single health probe
func GetProbeTimeout() time.Duration {
	return parseEnvDuration("PROBE_TIMEOUT", DefaultProbeTimeout)
}

// GetDefaultAgentPort returns the port used for agents that do not set one
func GetDefaultAgentPort() int {
	port := parseEnvInt("DEFAULT_AGENT_PORT", DefaultAgentPort)
	if port <= 0 || port > 65535 {
		return DefaultAgentPort
	}
	return port
}
