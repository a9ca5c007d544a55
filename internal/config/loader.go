package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix scopes environment overrides.
const EnvPrefix = "MEDIASEARCH_"

const maxFileSize = 1 << 20

// Load reads the default config file, if any, and the environment.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile layers defaults, the YAML file at path and MEDIASEARCH_*
// environment variables, in increasing precedence, and validates the
// result. An empty path means ~/.config/mediasearch/config.yaml when it
// exists and /etc/mediasearch/config.yaml otherwise. A missing file is not
// an error.
//
// Environment variables name a section and a field, split on the first
// underscore after the prefix:
//
//	MEDIASEARCH_SERVER_HTTP_PORT   -> server.http_port
//	MEDIASEARCH_STORAGE_SECRET_KEY -> storage.secret_key
func LoadWithFile(path string) (*Config, error) {
	if path == "" {
		path = defaultConfigPath()
	}
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	raw, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// readConfigFile returns nil, nil when path does not exist. Permission and
// size checks run on the open descriptor, so a swapped file is not read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if perm := info.Mode().Perm(); runtime.GOOS != "windows" && perm&0o022 != 0 {
		return nil, fmt.Errorf("insecure config file permissions %v: group or world writable", perm)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), maxFileSize)
	}
	return io.ReadAll(io.LimitReader(f, maxFileSize))
}

func envKey(s string) string {
	name := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if section, field, ok := strings.Cut(name, "_"); ok {
		return section + "." + field
	}
	return name
}

func configDirs() (system, user string) {
	system = filepath.Join("/etc", "mediasearch")
	if home, err := os.UserHomeDir(); err == nil {
		user = filepath.Join(home, ".config", "mediasearch")
	}
	return system, user
}

func defaultConfigPath() string {
	system, user := configDirs()
	if user != "" {
		if p := filepath.Join(user, "config.yaml"); fileExists(p) {
			return p
		}
	}
	return filepath.Join(system, "config.yaml")
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// validateConfigPath accepts only files below the system or user config
// directory, after resolving symlinks. It runs whether or not the file
// exists.
func validateConfigPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	system, user := configDirs()
	for _, dir := range []string{system, user} {
		if dir != "" && strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file %s must be under %s or ~/.config/mediasearch", path, system)
}
