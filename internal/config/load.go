package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultFileNames are searched, in order, when no config path is given.
var DefaultFileNames = []string{
	"taskforge.toml",
	"taskforge.yaml",
	"taskforge.yml",
}

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "TASKFORGE_"

// Load reads the configuration for the workspace.
//
// If path is empty the default file names are searched in workspace; when
// none exists the stock configuration is used. An explicit path that does
// not exist is an error. Dotenv files and TASKFORGE_* overrides are applied
// after the file is decoded, then the result is validated.
func Load(workspace, path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		for _, name := range DefaultFileNames {
			candidate := filepath.Join(workspace, name)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	} else if !filepath.IsAbs(path) && workspace != "" {
		path = filepath.Join(workspace, path)
	}

	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Project.Root == "" || cfg.Project.Root == "." {
		cfg.Project.Root = workspace
	} else if !filepath.IsAbs(cfg.Project.Root) && workspace != "" {
		cfg.Project.Root = filepath.Join(workspace, cfg.Project.Root)
	}
	if cfg.Project.Root == "" {
		cfg.Project.Root = "."
	}

	if err := LoadDotenv(cfg); err != nil {
		return nil, err
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// decodeFile decodes path over cfg, choosing the decoder by extension.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Error{Path: path, Msg: "file not found", Err: err}
		}
		return &Error{Path: path, Msg: "read failed", Err: err}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return decodeTOML(path, data, cfg)
	case ".yaml", ".yml", ".json":
		return decodeYAML(path, data, cfg)
	default:
		return Errorf(path, "unsupported config format %q", filepath.Ext(path))
	}
}

func decodeTOML(path string, data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		cerr := &Error{Path: path, Msg: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			cerr.Line, cerr.Column = derr.Position()
		}
		return cerr
	}
	return nil
}

func decodeYAML(path string, data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		// An empty document decodes to io.EOF; keep the defaults.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &Error{Path: path, Msg: err.Error(), Err: err}
	}
	return nil
}

// LoadDotenv loads the configured .env files relative to the project root.
// Variables already present in the environment are not overwritten and
// missing files are skipped.
func LoadDotenv(cfg *Config) error {
	for _, name := range cfg.Env.Dotenv {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Project.Root, path)
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return &Error{Path: path, Msg: "invalid dotenv file", Err: err}
		}
	}
	return nil
}

// ApplyEnv applies TASKFORGE_* overrides read through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok && v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := lookup(EnvPrefix + "LOG_FILE"); ok {
		cfg.Logging.File = v
	}
	if v, ok := lookup(EnvPrefix + "MANIFEST"); ok && v != "" {
		cfg.Project.Manifest = v
	}
	if v, ok := lookup(EnvPrefix + "FORCE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &Error{Path: EnvPrefix + "FORCE", Msg: fmt.Sprintf("invalid boolean %q", v), Err: err}
		}
		cfg.Runner.Force = b
	}
	if v, ok := lookup(EnvPrefix + "LIVERELOAD_ADDR"); ok && v != "" {
		cfg.LiveReload.Addr = v
	}
	return nil
}

// Resolve returns path made absolute against the project root.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Project.Root, path)
}
