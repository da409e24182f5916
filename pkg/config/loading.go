package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
)

// LoadFromFile reads path as YAML into a ServerYml, stamps its Path field,
// and validates it. There is no environment variable overlay: a server yml
// on disk is the sole source of truth for a leaf's configuration.
func LoadFromFile(path string) (*ServerYml, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read server yml %s", path)
	}

	var cfg ServerYml
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse server yml %s", path)
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
