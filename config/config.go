// Package config defines the configuration surface a CLI or config-file
// loader (out of scope per spec §1) would populate before opening a
// repository or starting a remote server. Structure and env-overlay
// convention follow the teacher's configuration package
// (configuration/configuration.go, configuration/parser.go): a
// yaml-tagged struct overridable by HANGAR_-prefixed environment
// variables, with no underscores inside yaml field names so the
// separator stays unambiguous.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Version is the configuration schema version.
type Version string

// Configuration is the top-level, versioned configuration for a hangar
// repository and, optionally, its remote server.
type Configuration struct {
	Version Version `yaml:"version"`

	// Log controls the logging subsystem (level, formatter).
	Log Log `yaml:"log"`

	// Repository configures the on-disk layout (§6).
	Repository Repository `yaml:"repository"`

	// Backends lists the default backend code and per-backend options
	// available to arrayset schemas (§4.4).
	Backends []BackendOption `yaml:"backends,omitempty"`

	// Server configures the remote protocol server (§4.7), when run.
	Server Server `yaml:"server,omitempty"`
}

// Log configures the structured logger.
type Log struct {
	Level     string            `yaml:"level,omitempty"`
	Formatter string            `yaml:"formatter,omitempty"`
	Fields    map[string]string `yaml:"fields,omitempty"`
}

// Repository configures the on-disk KV + backend data directory layout.
type Repository struct {
	Root string `yaml:"root"`
}

// BackendOption configures one backend accessor by its two-character code.
type BackendOption struct {
	Code    string            `yaml:"code"`
	Options map[string]string `yaml:"options,omitempty"`
}

// Server configures the remote RPC listener.
type Server struct {
	Addr            string `yaml:"addr"`
	PushMaxNBytes   int64  `yaml:"pushMaxNBytes,omitempty"`
	RestrictPush    bool   `yaml:"restrictPush,omitempty"`
	CredentialsFile string `yaml:"credentialsFile,omitempty"`
}

// DefaultPushMaxNBytes is used when Server.PushMaxNBytes is unset.
const DefaultPushMaxNBytes int64 = 64 << 20

// Parse unmarshals a configuration from the YAML in data and applies
// HANGAR_-prefixed environment variable overrides, mirroring
// configuration.Parse in the teacher.
func Parse(data []byte) (*Configuration, error) {
	c := new(Configuration)
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parsing yaml: %w", err)
	}
	if err := applyEnvOverrides(c, "HANGAR"); err != nil {
		return nil, err
	}
	if c.Server.PushMaxNBytes == 0 {
		c.Server.PushMaxNBytes = DefaultPushMaxNBytes
	}
	return c, nil
}

// applyEnvOverrides walks v's yaml-tagged fields and, for each leaf field
// whose environment variable (prefix + "_" + path, uppercased, "_" joined)
// is set, overrides the parsed value. Only string, bool, int64 and int
// leaf kinds are supported, which covers every leaf in Configuration.
func applyEnvOverrides(v any, prefix string) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("config: applyEnvOverrides requires a non-nil pointer")
	}
	return overrideStruct(rv.Elem(), prefix)
}

func overrideStruct(rv reflect.Value, prefix string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		tag := strings.Split(field.Tag.Get("yaml"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		envKey := prefix + "_" + strings.ToUpper(tag)
		fv := rv.Field(i)

		switch fv.Kind() {
		case reflect.Struct:
			if err := overrideStruct(fv, envKey); err != nil {
				return err
			}
			continue
		case reflect.Slice, reflect.Map:
			// Overlaying collection-typed fields from flat env vars isn't
			// supported; they're configured entirely from the file.
			continue
		}

		raw, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}
		if err := setScalar(fv, raw); err != nil {
			return fmt.Errorf("config: env %s: %w", envKey, err)
		}
	}
	return nil
}

func setScalar(fv reflect.Value, raw string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}
