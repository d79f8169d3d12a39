// Package config reads the optional imgpatch defaults file. Flags always win
// over file values; a missing file simply yields zero defaults.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/imgpatch/imgpatch/internal/style"
	"github.com/imgpatch/imgpatch/pkg/logging"
)

type Config struct {
	DefaultRepository string `toml:"default-repository"`
	Network           string `toml:"network"`
	TagTime           bool   `toml:"tag-time"`
}

// DefaultConfigPath returns the location of the defaults file.
func DefaultConfigPath() (string, error) {
	home, err := ImgpatchHome()
	if err != nil {
		return "", errors.Wrap(err, "getting imgpatch home")
	}
	return filepath.Join(home, "config.toml"), nil
}

// ImgpatchHome returns the config directory, honoring IMGPATCH_HOME.
func ImgpatchHome() (string, error) {
	if env := os.Getenv("IMGPATCH_HOME"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".imgpatch"), nil
}

// Read loads the defaults file. A missing file is not an error; a malformed
// one is. Unknown keys are reported as a warning so typos do not pass silently.
func Read(logger logging.Logger, path string) (Config, error) {
	cfg := Config{}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return cfg, nil
		}
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		logger.Warnf("ignoring unknown keys in %s: %s", style.Symbol(path), parseUndecodedKeys(undecoded))
	}

	return cfg, nil
}

func parseUndecodedKeys(undecodedKeys []toml.Key) string {
	var keys []string
	for _, key := range undecodedKeys {
		keys = append(keys, style.Symbol(key.String()))
	}
	return strings.Join(keys, ", ")
}
