package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Validatable is implemented by config structs that can check themselves
// after unmarshalling.
type Validatable interface{ Validate() error }

type Options struct {
	// Paths are directories searched for config files, in order.
	Paths []string
	// Names are config file base names merged in order (later wins).
	Names []string
	// Type is the config format, yaml by default.
	Type string
	// EnvPrefix enables FOO_BAR-style environment overrides.
	EnvPrefix string
	// OptionalFiles makes missing files non-fatal.
	OptionalFiles bool
}

// Load reads and merges the configured files, applies environment
// overrides and unmarshals into T. If T implements Validatable the
// result is validated before being returned.
func Load[T any](opts Options) (T, error) {
	var zero T
	var cfg T

	typ := opts.Type
	if typ == "" {
		typ = "yaml"
	}

	v := viper.New()
	v.SetConfigType(typ)

	fv := viper.New()
	fv.SetConfigType(typ)
	for _, p := range opts.Paths {
		if p != "" {
			fv.AddConfigPath(p)
		}
	}

	foundAny := false
	for _, name := range opts.Names {
		if name == "" {
			continue
		}
		fv.SetConfigName(name)
		if err := fv.ReadInConfig(); err != nil {
			continue
		}
		if err := v.MergeConfigMap(fv.AllSettings()); err != nil {
			return zero, fmt.Errorf("merge %s: %w", name, err)
		}
		foundAny = true
	}

	if !foundAny && !opts.OptionalFiles && len(opts.Names) > 0 {
		return zero, fmt.Errorf("config files not found in %v for names %v", opts.Paths, opts.Names)
	}

	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return zero, fmt.Errorf("unmarshal config: %w", err)
	}

	if vv, ok := any(&cfg).(Validatable); ok {
		if err := vv.Validate(); err != nil {
			return zero, fmt.Errorf("invalid config: %w", err)
		}
	}

	return cfg, nil
}

func MustLoad[T any](opts Options) *T {
	cfg, err := Load[T](opts)
	if err != nil {
		panic(err)
	}
	return &cfg
}
