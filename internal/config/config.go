package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Check    CheckConfig   `mapstructure:"check"`
	Runtime  RuntimeConfig `mapstructure:"runtime"`
	Python   PythonConfig  `mapstructure:"python"`
	LogLevel string        `mapstructure:"log_level"`
}

type CheckConfig struct {
	Backend string  `mapstructure:"backend"`
	RTol    float64 `mapstructure:"rtol"`
	ATol    float64 `mapstructure:"atol"`
}

type RuntimeConfig struct {
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTAPIVersion  uint32 `mapstructure:"ort_api_version"`
	ORTVersion     string `mapstructure:"ort_version"`
}

type PythonConfig struct {
	Bin    string `mapstructure:"bin"`
	Script string `mapstructure:"script"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Check: CheckConfig{
			Backend: BackendNative,
			RTol:    1e-5,
			ATol:    1e-5,
		},
		Runtime: RuntimeConfig{
			ORTLibraryPath: "",
			ORTAPIVersion:  23,
			ORTVersion:     "",
		},
		Python: PythonConfig{
			Bin:    "",
			Script: "scripts/aot_export.py",
		},
		LogLevel: "info",
	}
}

// keys maps each config key to the flag that sets it.
var keys = []struct {
	key  string
	flag string
}{
	{"check.backend", "backend"},
	{"check.rtol", "rtol"},
	{"check.atol", "atol"},
	{"runtime.ort_library_path", "ort-lib"},
	{"runtime.ort_api_version", "ort-api-version"},
	{"runtime.ort_version", "ort-version"},
	{"python.bin", "python-bin"},
	{"python.script", "python-script"},
	{"log_level", "log-level"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("backend", defaults.Check.Backend, "Export backend (native|torch)")
	fs.Float64("rtol", defaults.Check.RTol, "Relative tolerance for output comparison")
	fs.Float64("atol", defaults.Check.ATol, "Absolute tolerance for output comparison")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.Uint32("ort-api-version", defaults.Runtime.ORTAPIVersion, "ONNX Runtime C API version")
	fs.String("ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.String("python-bin", defaults.Python.Bin, "Python interpreter with torch and onnx installed")
	fs.String("python-script", defaults.Python.Script, "Path to the torch export helper script")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)

	v.SetEnvPrefix("AOTCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("runtime.ort_library_path", "AOTCHECK_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("aotcheck")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	// Only flags set on the command line override env and file values.
	if opts.Cmd != nil {
		fs := opts.Cmd.Flags()
		for _, k := range keys {
			f := fs.Lookup(k.flag)
			if f == nil || !f.Changed {
				continue
			}

			if err := v.BindPFlag(k.key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %q: %w", k.flag, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	backend, err := NormalizeBackend(cfg.Check.Backend)
	if err != nil {
		return Config{}, err
	}

	cfg.Check.Backend = backend

	if cfg.Check.RTol < 0 || cfg.Check.ATol < 0 {
		return Config{}, fmt.Errorf("tolerances must be non-negative (rtol=%g atol=%g)", cfg.Check.RTol, cfg.Check.ATol)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("check.backend", c.Check.Backend)
	v.SetDefault("check.rtol", c.Check.RTol)
	v.SetDefault("check.atol", c.Check.ATol)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_api_version", c.Runtime.ORTAPIVersion)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("python.bin", c.Python.Bin)
	v.SetDefault("python.script", c.Python.Script)
	v.SetDefault("log_level", c.LogLevel)
}
