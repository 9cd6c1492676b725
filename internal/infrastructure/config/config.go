package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"go-hub-tunnel/internal/infrastructure/logger"
)

// EnvPrefix prefixes every environment override, HUBTUNNEL_CLIENT_URL for
// client.url and so on.
const EnvPrefix = "HUBTUNNEL"

type Config struct {
	Log    logger.Config `mapstructure:"log"    json:"log"    yaml:"log"`
	Client Client        `mapstructure:"client" json:"client" yaml:"client"`
	Server Server        `mapstructure:"server" json:"server" yaml:"server"`
}

// Client configures hub connections built by the client harness.
type Client struct {
	PipeName          string          `mapstructure:"pipe_name"           json:"pipe_name"           yaml:"pipe_name"`
	ServerName        string          `mapstructure:"server_name"         json:"server_name"         yaml:"server_name"`
	URL               string          `mapstructure:"url"                 json:"url"                 yaml:"url"`
	AccessToken       string          `mapstructure:"access_token"        json:"access_token"        yaml:"access_token"`
	KeepAliveInterval time.Duration   `mapstructure:"keep_alive_interval" json:"keep_alive_interval" yaml:"keep_alive_interval"`
	ServerTimeout     time.Duration   `mapstructure:"server_timeout"      json:"server_timeout"      yaml:"server_timeout"`
	HandshakeTimeout  time.Duration   `mapstructure:"handshake_timeout"   json:"handshake_timeout"   yaml:"handshake_timeout"`
	ReconnectDelays   []time.Duration `mapstructure:"reconnect_delays"    json:"reconnect_delays"    yaml:"reconnect_delays"`
}

// Server configures the test hub.
type Server struct {
	Addr              string        `mapstructure:"addr"                json:"addr"                yaml:"addr"`
	PipeName          string        `mapstructure:"pipe_name"           json:"pipe_name"           yaml:"pipe_name"`
	AccessToken       string        `mapstructure:"access_token"        json:"access_token"        yaml:"access_token"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval" json:"keep_alive_interval" yaml:"keep_alive_interval"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"   json:"handshake_timeout"   yaml:"handshake_timeout"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"    json:"cleanup_interval"    yaml:"cleanup_interval"`
}

type Option struct {
	Key     string
	Default any
	Comment string
}

// Options lists every key with its default.
func Options() []Option {
	lc := logger.NewDefaultConfig()
	return []Option{
		{Key: "log.level", Default: lc.Level.String(), Comment: "debug, info, warn, error or fatal"},
		{Key: "log.format", Default: lc.Format, Comment: "json, text or console"},
		{Key: "log.output", Default: lc.Output, Comment: "stdout, stderr or file"},
		{Key: "log.file_path", Default: "", Comment: "log file when log.output is file"},
		{Key: "log.max_size", Default: lc.MaxSize, Comment: "megabytes before the log file is rotated"},
		{Key: "log.max_backups", Default: lc.MaxBackups, Comment: "rotated files to keep"},
		{Key: "log.max_age", Default: lc.MaxAge, Comment: "days to keep rotated files"},
		{Key: "log.compress", Default: lc.Compress, Comment: "gzip rotated files"},

		{Key: "client.pipe_name", Default: "", Comment: "named pipe of the hub; takes precedence over client.url"},
		{Key: "client.server_name", Default: ".", Comment: "machine hosting the named pipe"},
		{Key: "client.url", Default: "http://localhost:8080/hub", Comment: "hub endpoint when no pipe is configured"},
		{Key: "client.access_token", Default: "", Comment: "bearer token sent to the hub"},
		{Key: "client.keep_alive_interval", Default: "15s", Comment: "interval between client pings"},
		{Key: "client.server_timeout", Default: "30s", Comment: "silence from the server that drops the connection"},
		{Key: "client.handshake_timeout", Default: "15s", Comment: "time allowed for the protocol handshake"},
		{Key: "client.reconnect_delays", Default: []string{}, Comment: "waits between reconnect attempts; empty disables reconnects"},

		{Key: "server.addr", Default: ":8080", Comment: "HTTP listen address"},
		{Key: "server.pipe_name", Default: "", Comment: "named pipe served next to HTTP; empty disables it"},
		{Key: "server.access_token", Default: "", Comment: "token required on /hub; empty disables the check"},
		{Key: "server.keep_alive_interval", Default: "15s", Comment: "interval between server pings"},
		{Key: "server.handshake_timeout", Default: "15s", Comment: "time allowed for the protocol handshake"},
		{Key: "server.cleanup_interval", Default: "30s", Comment: "sweep interval for closed connections"},
	}
}

// NewViper returns a viper instance decoding with the hooks Load relies on.
func NewViper() *viper.Viper {
	return viper.NewWithOptions(viper.WithDecodeHook(DecodeHook()))
}

// DecodeHook converts strings into durations, duration lists and
// text-unmarshalable values such as logger.Level.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		stringToDurationSliceHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

var durationSliceType = reflect.TypeOf([]time.Duration(nil))

// stringToDurationSliceHookFunc decodes "1s,250ms" (commas or spaces) into a
// []time.Duration. Env values arrive either as one string or as a string
// slice that viper split on whitespace, so every element is split again.
func stringToDurationSliceHookFunc() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, t reflect.Type, data any) (any, error) {
		if t != durationSliceType {
			return data, nil
		}

		var raw []string
		switch v := data.(type) {
		case string:
			raw = []string{v}
		case []string:
			raw = v
		case []any:
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return data, nil
				}
				raw = append(raw, s)
			}
		default:
			return data, nil
		}

		out := []time.Duration{}
		for _, item := range raw {
			fields := strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
			for _, f := range fields {
				d, err := time.ParseDuration(f)
				if err != nil {
					return nil, err
				}
				out = append(out, d)
			}
		}
		return out, nil
	}
}

// Load resolves configuration with precedence defaults < file < env. When
// configFile is empty no file is read.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	for _, o := range Options() {
		v.SetDefault(o.Key, o.Default)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			if errors.As(err, &pathErr) {
				return nil, fmt.Errorf("config file %s not found: %w", configFile, err)
			}
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Log.Fields = logger.NewDefaultConfig().Fields

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Client.PipeName == "" && c.Client.URL == "" {
		errs = append(errs, errors.New("client.pipe_name or client.url is required"))
	}
	if c.Client.KeepAliveInterval <= 0 {
		errs = append(errs, errors.New("client.keep_alive_interval must be greater than 0"))
	}
	if c.Client.ServerTimeout <= c.Client.KeepAliveInterval {
		errs = append(errs, errors.New("client.server_timeout must exceed client.keep_alive_interval"))
	}
	if c.Client.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("client.handshake_timeout must be greater than 0"))
	}
	for i, d := range c.Client.ReconnectDelays {
		if d < 0 {
			errs = append(errs, fmt.Errorf("client.reconnect_delays[%d] must not be negative", i))
		}
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.KeepAliveInterval <= 0 {
		errs = append(errs, errors.New("server.keep_alive_interval must be greater than 0"))
	}
	if c.Server.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("server.handshake_timeout must be greater than 0"))
	}
	if c.Log.Output == "file" && c.Log.FilePath == "" {
		errs = append(errs, errors.New("log.file_path is required when log.output is file"))
	}
	return errors.Join(errs...)
}
