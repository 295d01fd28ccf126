package agents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format is the serialization used for a registry file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor picks the format from the file extension; anything unknown is JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// Decode parses registry data. JSON input may carry comments and trailing commas.
func Decode(format Format, data []byte) (File, error) {
	var f File

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return File{}, fmt.Errorf("decode yaml registry: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &f); err != nil {
			return File{}, fmt.Errorf("decode toml registry: %w", err)
		}
	default:
		if len(bytes.TrimSpace(data)) == 0 {
			return File{}, nil
		}
		if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
			return File{}, fmt.Errorf("decode json registry: %w", err)
		}
	}

	return f, nil
}

// Encode serializes a registry file in the given format.
func Encode(format Format, f File) ([]byte, error) {
	if f.Agents == nil {
		f.Agents = []Agent{}
	}

	switch format {
	case FormatYAML:
		return yaml.Marshal(f)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(f); err != nil {
			return nil, fmt.Errorf("encode toml registry: %w", err)
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(f, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode json registry: %w", err)
		}
		return append(data, '\n'), nil
	}
}

func validate(f File) error {
	seen := make(map[string]struct{}, len(f.Agents))
	for i, a := range f.Agents {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("agent #%d: %w", i, ErrMissingID)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("agent %q: %w", a.ID, ErrDuplicate)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}
