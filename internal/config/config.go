// Package config loads a Server/Service configuration file in JSON,
// TOML or YAML form (chosen by file extension) into a Go struct via
// mapstructure tags.
//
// Grounded on the teacher's air.go Serve() config-file block, which
// reads the whole file, unmarshals it into a map keyed by extension,
// then decodes that map onto the target struct with
// github.com/mitchellh/mapstructure.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config mirrors ServerConfig's tunables plus the logging/filter
// ambient knobs the expanded ambient stack calls for, so one config
// file can drive both the transport layer and the logging front-end.
// Duration fields are nanosecond counts in the config source, exactly
// as the teacher's own time.Duration-typed config fields expect
// (mapstructure decodes a numeric JSON/TOML/YAML value straight onto
// the underlying int64 with no decode hook required).
type Config struct {
	Address string `mapstructure:"address"`

	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`

	MaxContentLength int64 `mapstructure:"max_content_length"`

	TrustForwardedProto bool   `mapstructure:"trust_forwarded_proto"`
	TrustForwardedHost  bool   `mapstructure:"trust_forwarded_host"`
	TrustMethodOverride bool   `mapstructure:"trust_method_override"`
	TrustRequestID      string `mapstructure:"trust_request_id"`
	RequestIDHeader     string `mapstructure:"request_id_header"`

	HTTP2 bool `mapstructure:"http2"`

	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	ACMEEnabled       bool     `mapstructure:"acme_enabled"`
	ACMEHostWhitelist []string `mapstructure:"acme_host_whitelist"`
	ACMECertRoot      string   `mapstructure:"acme_cert_root"`

	ProxyProtocolEnabled    bool          `mapstructure:"proxy_protocol_enabled"`
	ProxyReadHeaderTimeout  time.Duration `mapstructure:"proxy_read_header_timeout"`
	ProxyRelayerIPWhitelist []string      `mapstructure:"proxy_relayer_ip_whitelist"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	DebugMode bool `mapstructure:"debug_mode"`
}

// Load reads path (extension one of .json/.toml/.yaml/.yml) and decodes
// it onto cfg.
func Load(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	m := map[string]interface{}{}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(b, &m)
	case ".toml":
		err = toml.Unmarshal(b, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &m)
	default:
		err = fmt.Errorf("config: unsupported configuration file extension: %s", ext)
	}

	if err != nil {
		return err
	}

	return mapstructure.Decode(m, cfg)
}
