// Package config loads the dicomscp settings from defaults, an optional YAML
// file, DICOMSCP_ environment variables and command line flags, in that
// order of precedence.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/caio-sobreiro/dicomscp/pdu"
	"github.com/caio-sobreiro/dicomscp/session"
)

const envPrefix = "dicomscp"

// Config is the full server configuration.
type Config struct {
	AETitle string `mapstructure:"ae_title"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`

	TLSPort int    `mapstructure:"tls_port"`
	TLSCert string `mapstructure:"tls_cert"`
	TLSKey  string `mapstructure:"tls_key"`

	MaxPDULength      uint32        `mapstructure:"max_pdu_length"`
	AssociateTimeout  time.Duration `mapstructure:"associate_timeout"`
	DimseTimeout      time.Duration `mapstructure:"dimse_timeout"`
	SocketTimeout     time.Duration `mapstructure:"socket_timeout"`
	ThrottleBytes     int           `mapstructure:"throttle_bytes_per_second"`
	AcceptRate        int           `mapstructure:"accept_rate"`
	AcceptedOnly      bool          `mapstructure:"accepted_contexts_only"`
	RejectEmpty       bool          `mapstructure:"reject_empty_association"`
	AllowedCallingAEs []string      `mapstructure:"allowed_calling_aes"`
	AllowedCalledAEs  []string      `mapstructure:"allowed_called_aes"`

	ProfilesDir         string `mapstructure:"profiles_dir"`
	MatchImplementation bool   `mapstructure:"match_implementation"`

	Storage StorageConfig `mapstructure:"storage"`

	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
}

// StorageConfig selects where received instances go.
type StorageConfig struct {
	// Backend is "file" or "s3".
	Backend       string `mapstructure:"backend"`
	Dir           string `mapstructure:"dir"`
	Catalog       string `mapstructure:"catalog"`
	AgeRecipients string `mapstructure:"age_recipients"`
	FileBuffer    bool   `mapstructure:"file_buffer"`
	TempDir       string `mapstructure:"temp_dir"`

	S3 S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// Default returns the built in configuration.
func Default() Config {
	sc := session.DefaultConfig()
	return Config{
		AETitle:          "DICOMSCP",
		Port:             11112,
		MaxPDULength:     sc.MaxPDULength,
		AssociateTimeout: sc.AssociateTimeout,
		DimseTimeout:     sc.DimseTimeout,
		SocketTimeout:    sc.SocketTimeout,
		Storage: StorageConfig{
			Backend: "file",
			Dir:     "./dicom-store",
		},
		LogLevel:        "info",
		LogFormat:       "json",
		MetricsInterval: time.Minute,
	}
}

// New returns a viper instance carrying the defaults and reading DICOMSCP_
// environment variables. Nested keys use "_" in the environment, so
// storage.s3.bucket is DICOMSCP_STORAGE_S3_BUCKET.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var defaults map[string]any
	_ = mapstructure.Decode(Default(), &defaults)
	setDefaults(v, "", defaults)
	return v
}

func setDefaults(v *viper.Viper, prefix string, values map[string]any) {
	for k, val := range values {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			setDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, val)
	}
}

// Load reads the optional config file at path, binds flags and decodes the
// result. An empty path reads only defaults, environment and flags.
func Load(v *viper.Viper, path string, flags *pflag.FlagSet) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, oops.In("config").With("path", path).Wrapf(err, "failed to read configuration file")
		}
	}
	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(FlagKey(f.Name), f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, oops.In("config").Wrapf(bindErr, "failed to bind flags")
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, oops.In("config").Wrapf(err, "failed to decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FlagKey maps a command line flag name to its configuration key:
// "storage-dir" is storage.dir, "ae-title" is ae_title.
func FlagKey(name string) string {
	for _, section := range []string{"storage-s3-", "storage-"} {
		if rest, ok := strings.CutPrefix(name, section); ok {
			return strings.ReplaceAll(strings.TrimSuffix(section, "-"), "-", ".") + "." + strings.ReplaceAll(rest, "-", "_")
		}
	}
	return strings.ReplaceAll(name, "-", "_")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.AETitle == "" || len(c.AETitle) > 16 {
		errs = append(errs, errors.New("ae_title must be 1 to 16 characters"))
	}
	for _, ae := range append(append([]string{}, c.AllowedCallingAEs...), c.AllowedCalledAEs...) {
		if len(ae) > 16 {
			errs = append(errs, oops.With("ae", ae).Errorf("AE title longer than 16 characters"))
		}
	}
	if !validPort(c.Port) {
		errs = append(errs, oops.With("port", c.Port).Errorf("port out of range"))
	}
	if c.TLSPort != 0 && !validPort(c.TLSPort) {
		errs = append(errs, oops.With("tls_port", c.TLSPort).Errorf("tls_port out of range"))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("tls_cert and tls_key must be set together"))
	}
	if c.TLSPort != 0 && c.TLSCert == "" {
		errs = append(errs, errors.New("tls_port requires tls_cert and tls_key"))
	}
	if c.MaxPDULength != 0 && (c.MaxPDULength < 4096 || c.MaxPDULength > pdu.MaxPDULengthLimit) {
		errs = append(errs, oops.With("max_pdu_length", c.MaxPDULength).Errorf("max_pdu_length out of range"))
	}
	if c.ThrottleBytes < 0 || c.AcceptRate < 0 {
		errs = append(errs, errors.New("rates must not be negative"))
	}
	switch c.Storage.Backend {
	case "file":
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir is required for the file backend"))
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, oops.With("backend", c.Storage.Backend).Errorf("unknown storage backend"))
	}
	if len(errs) > 0 {
		return oops.In("config").Wrapf(errors.Join(errs...), "invalid configuration")
	}
	return nil
}

func validPort(p int) bool { return p > 0 && p < 65536 }

// SessionConfig converts the settings to per-association settings.
func (c *Config) SessionConfig() session.Config {
	sc := session.DefaultConfig()
	if c.MaxPDULength != 0 {
		sc.MaxPDULength = c.MaxPDULength
	}
	sc.AssociateTimeout = c.AssociateTimeout
	sc.DimseTimeout = c.DimseTimeout
	if c.SocketTimeout > 0 {
		sc.SocketTimeout = c.SocketTimeout
	}
	sc.ThrottleBytesPerSecond = c.ThrottleBytes
	sc.AcceptedContextsOnly = c.AcceptedOnly
	sc.UseFileBuffer = c.Storage.FileBuffer
	sc.TempDir = c.Storage.TempDir
	return sc
}

// ReadFileOrValue returns the contents of value when it names an existing
// file, otherwise value itself. Used for age recipients.
func ReadFileOrValue(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if st, err := os.Stat(value); err == nil && !st.IsDir() {
		data, err := os.ReadFile(value)
		if err != nil {
			return "", oops.In("config").With("path", value).Wrapf(err, "failed to read file")
		}
		return string(data), nil
	}
	return value, nil
}
