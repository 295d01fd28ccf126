package agents

import (
	"net"
	"strconv"
)

// Agent is one configured chat backend.
type Agent struct {
	ID    string `json:"id" yaml:"id" toml:"id"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Host  string `json:"host" yaml:"host" toml:"host"`
	Port  int    `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`
	Token string `json:"token,omitempty" yaml:"token,omitempty" toml:"token,omitempty"`
	Color string `json:"color,omitempty" yaml:"color,omitempty" toml:"color,omitempty"`
	Model string `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`
}

// Addr returns host:port for dialing the agent.
func (a Agent) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// DisplayName falls back to the id when no name is configured.
func (a Agent) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// File is the on-disk registry layout.
type File struct {
	Port   int     `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`
	Agents []Agent `json:"agents" yaml:"agents" toml:"agents"`
}

// Defaults fill in fields an agent entry leaves empty.
type Defaults struct {
	Port  int
	Color string
}

func (d Defaults) apply(a Agent) Agent {
	if a.Port == 0 {
		a.Port = d.Port
	}
	if a.Color == "" {
		a.Color = d.Color
	}
	return a
}
