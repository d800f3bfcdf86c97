package internal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/airlookjs/mediainfo/internal/api"
	"github.com/airlookjs/mediainfo/internal/format"
	"github.com/airlookjs/mediainfo/internal/mediainfo"
	"github.com/airlookjs/mediainfo/internal/resolver"
	"github.com/airlookjs/mediainfo/internal/share"
	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"
)

const (
	DefaultShareName  = "agis"
	DefaultShareMatch = `^/?(.+)$`
)

type (
	// Config is the struct used to contain the various user config
	// supplied by file and/or the environment.
	Config struct {
		Environment         string           `yaml:"environment" env:"ENVIRONMENT" env-default:"development"`
		Version             string           `yaml:"version" env:"VERSION" env-default:"dev" validate:"required"`
		LogLevel            string           `yaml:"log_level" env:"LOG_LEVEL" env-default:"info" validate:"oneof=verbose trace debug info warn warning error fatal panic"`
		DefaultOutputFormat string           `yaml:"default_output_format" env:"DEFAULT_OUTPUT_FORMAT" env-default:"EBUCore_JSON" validate:"required"`
		RestConfig          api.RestConfig   `yaml:"api"`
		MediaInfo           mediainfo.Config `yaml:"mediainfo"`
		DefaultShare        DefaultShare     `yaml:"default_share"`
		Shares              []ShareConfig    `yaml:"shares" validate:"dive"`

		// SharesJSON is a JSON encoded list of ShareConfig, used when no
		// shares are provided by the config file.
		SharesJSON string `yaml:"-" env:"SHARES"`
	}

	// ShareConfig describes a single share. When Cached is omitted the
	// share is cache-enabled.
	ShareConfig struct {
		Name    string   `yaml:"name" mapstructure:"name" validate:"required"`
		Mount   string   `yaml:"mount" mapstructure:"mount" validate:"required"`
		Cached  *bool    `yaml:"cached" mapstructure:"cached"`
		Matches []string `yaml:"matches" mapstructure:"matches" validate:"required,min=1,dive,required"`
	}

	// DefaultShare is the share used when none are configured. The share
	// is cache-enabled unless SHARE_AIRLOOK_CACHED or the file says
	// otherwise, with the environment taking precedence.
	DefaultShare struct {
		Mount     string `yaml:"mount" env:"SHARE_AIRLOOK_MOUNT" env-default:"/mnt/agis-store"`
		Cached    *bool  `yaml:"cached"`
		CachedEnv string `yaml:"-" env:"SHARE_AIRLOOK_CACHED"`
	}
)

// LoadConfig reads the configuration file at the path provided (if any),
// with values from the environment taking precedence, and validates the
// result.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}
	if configPath != "" {
		path, err := homedir.Expand(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path %s: %w", configPath, err)
		}

		if err := cleanenv.ReadConfig(path, config); err != nil {
			return nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	if err := config.resolveShares(); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("configuration is invalid: %w", err)
	}

	return config, nil
}

// resolveShares settles which shares are in use: those from the config
// file, else those from the SHARES environment variable, else the
// default share.
func (config *Config) resolveShares() error {
	if len(config.Shares) > 0 {
		return nil
	}

	if strings.TrimSpace(config.SharesJSON) != "" {
		shares, err := decodeShares(config.SharesJSON)
		if err != nil {
			return err
		}

		config.Shares = shares
		return nil
	}

	cached, err := config.DefaultShare.cached()
	if err != nil {
		return err
	}

	config.Shares = []ShareConfig{{
		Name:    DefaultShareName,
		Mount:   config.DefaultShare.Mount,
		Cached:  &cached,
		Matches: []string{DefaultShareMatch},
	}}

	return nil
}

func (defaultShare DefaultShare) cached() (bool, error) {
	if strings.TrimSpace(defaultShare.CachedEnv) != "" {
		cached, err := strconv.ParseBool(strings.TrimSpace(defaultShare.CachedEnv))
		if err != nil {
			return false, fmt.Errorf("SHARE_AIRLOOK_CACHED must be a boolean: %w", err)
		}

		return cached, nil
	}

	if defaultShare.Cached != nil {
		return *defaultShare.Cached, nil
	}

	return true, nil
}

func decodeShares(raw string) ([]ShareConfig, error) {
	var generic []map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, fmt.Errorf("SHARES is not a JSON list of shares: %w", err)
	}

	var shares []ShareConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &shares,
	})
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(generic); err != nil {
		return nil, fmt.Errorf("SHARES contains an invalid share: %w", err)
	}

	return shares, nil
}

// BuildShares compiles the configured shares, expanding any home
// directory reference in their mounts.
func (config *Config) BuildShares() ([]*share.Share, error) {
	shares := make([]*share.Share, 0, len(config.Shares))
	for _, sc := range config.Shares {
		mount, err := homedir.Expand(sc.Mount)
		if err != nil {
			return nil, fmt.Errorf("share %s: failed to expand mount: %w", sc.Name, err)
		}

		cached := true
		if sc.Cached != nil {
			cached = *sc.Cached
		}

		s, err := share.New(sc.Name, mount, cached, sc.Matches)
		if err != nil {
			return nil, err
		}

		shares = append(shares, s)
	}

	return shares, nil
}

// ResolverConfig builds the immutable configuration used by the resolver,
// ensuring the default output format is one the registry knows of.
func (config *Config) ResolverConfig() (resolver.Config, error) {
	formats := format.Default()
	if _, ok := formats.Lookup(config.DefaultOutputFormat); !ok {
		return resolver.Config{}, fmt.Errorf("default output format %s is not one of %s", config.DefaultOutputFormat, strings.Join(formats.Names(), ", "))
	}

	shares, err := config.BuildShares()
	if err != nil {
		return resolver.Config{}, err
	}

	return resolver.Config{
		Version:       config.Version,
		DefaultFormat: config.DefaultOutputFormat,
		Formats:       formats,
		Shares:        shares,
	}, nil
}
