package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

// Load overlays a YAML config file and METASCRUB_* environment variables onto
// cfg. When path is empty the default config file is used if it exists;
// an explicit path that does not exist is an error. Fields absent from both
// sources keep their current values.
func Load(cfg *Config, path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	resolved, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	if _, err := os.Stat(resolved); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			if err := cleanenv.ReadEnv(cfg); err != nil {
				return fmt.Errorf("read environment: %w", err)
			}
			return nil
		}
		return fmt.Errorf("config file %s: %w", resolved, err)
	}

	if err := cleanenv.ReadConfig(resolved, cfg); err != nil {
		return fmt.Errorf("load config %s: %w", resolved, err)
	}
	cfg.ConfigFile = resolved
	return nil
}

// configArg scans raw arguments for --config/-config without consuming them,
// so the file overlay can be applied before flags are parsed.
func configArg(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			break
		}
		name := strings.TrimLeft(a, "-")
		if len(a) == len(name) {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
