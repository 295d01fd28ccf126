package config

import "time"

const (
	DefaultServerPort = 3000
	ShutdownTimeout   = 10 * time.Second
)

// GetAgentsFile returns the path of the agent registry file
func GetAgentsFile() string {
	return GetEnvOrDefault("AGENTS_FILE", "agents.json")
}

// GetHTTPAddr returns the listen address override, empty when unset
func GetHTTPAddr() string {
	return GetEnvOrDefault("HTTP_ADDR", "")
}

// GetDashboardFile returns the path of the static dashboard page
func GetDashboardFile() string {
	return GetEnvOrDefault("DASHBOARD_FILE", "index.html")
}

func GetLogLevel() string {
	return GetEnvOrDefault("LOG_LEVEL", "info")
}

// GetLogPretty reports whether console formatted logs were requested
func GetLogPretty() bool {
	return GetEnvOrDefault("LOG_FORMAT", "json") == "console"
}

// GetWatchAgents reports whether the registry file should be watched for edits
func GetWatchAgents() bool {
	return parseEnvBool("AGENTS_WATCH", true)
}
