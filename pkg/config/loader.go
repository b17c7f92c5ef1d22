// Package config loads configuration for the PropFirmFlow API from struct
// tag defaults, an optional YAML file, and environment variables. Values
// are resolved in priority order, highest last:
//
//	envDefault struct tags  (lowest)
//	YAML config file
//	environment variables   (highest)
//
// Three struct tags control loading:
//
//   - `env:"VAR"` maps the field to an environment variable
//   - `envDefault:"value"` is applied when the field is zero-valued
//   - `required:"true"` makes loading fail if the field is still zero afterwards
//
// Fields need a `yaml` tag for file-based loading. Nested structs are
// traversed; a parent's env tag becomes a prefix for its children (joined
// with "_").
//
//	type AppConfig struct {
//	    Auth   auth.Config     `yaml:"auth" env:"AUTH"`
//	    Server ServerConfig    `yaml:"server" env:"SERVER"`
//	}
//
//	cfg := config.MustLoad[AppConfig](config.New().WithFile("config.yaml"))
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pferr "github.com/propfirmflow/propfirmflow-api/pkg/errors"
)

// durationType distinguishes time.Duration from plain int64 fields during
// struct traversal (Duration's underlying kind is Int64).
var durationType = reflect.TypeOf(time.Duration(0))

// Validator is an optional interface configuration structs may implement.
// Validate is called after tag-based required checks succeed.
type Validator interface {
	Validate() error
}

// Loader resolves configuration with the layered strategy described in the
// package documentation. A Loader is not safe for concurrent use; create
// one per Load call.
type Loader struct {
	envPrefix string
	filePath  string
}

// New creates a Loader that reads environment variables only. Configure it
// with [Loader.WithEnvPrefix] and [Loader.WithFile] before calling
// [Loader.Load].
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix prepends prefix (uppercased, underscore-joined) to every
// environment variable name derived from env tags. Returns the Loader for
// chaining.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets the path of an optional YAML configuration file. A missing
// file is not an error; file configuration is an overlay, not a
// requirement. Returns the Loader for chaining.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// Load populates cfg, which must be a non-nil pointer to a struct, in
// priority order: envDefault tags, then the YAML file (if configured and
// present), then environment variables. After loading, fields tagged
// `required:"true"` must be non-zero, and cfg's Validate method is invoked
// if it implements [Validator].
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return pferr.New(pferr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return pferr.New(pferr.CodeInternalConfiguration,
			"config: Load requires a pointer to a struct")
	}

	if err := applyDefaults(rv); err != nil {
		return err
	}
	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}
	if err := applyEnv(rv, l.envPrefix); err != nil {
		return err
	}
	if err := checkRequired(rv, ""); err != nil {
		return err
	}
	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isCoded := pferr.AsError(err); isCoded {
				return err
			}
			return pferr.Wrap(err, pferr.CodeValidation,
				"config: custom validation failed")
		}
	}
	return nil
}

// MustLoad creates a zero value of T, loads configuration into it, and
// panics on failure. Intended for use in main, where invalid configuration
// should prevent startup.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

// loadFile overlays values from the YAML file onto cfg. Missing files are
// ignored. Paths containing ".." are rejected.
func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return pferr.New(pferr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal sequences")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return pferr.Wrapf(err, pferr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return pferr.Wrapf(err, pferr.CodeInternalConfiguration,
			"config: failed to parse YAML file %q", l.filePath)
	}
	return nil
}

// applyDefaults sets zero-valued fields to their envDefault tag values,
// recursing into nested structs.
func applyDefaults(rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}
		tag := sf.Tag.Get("envDefault")
		if tag == "" || !field.IsZero() {
			continue
		}
		if err := setField(field, tag); err != nil {
			return pferr.Wrapf(err, pferr.CodeInternalConfiguration,
				"config: failed to apply default for field %q", sf.Name)
		}
	}
	return nil
}

// applyEnv sets fields from the environment variables named by their env
// tags. A nested struct's env tag is appended to the running prefix.
func applyEnv(rv reflect.Value, prefix string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}
		envTag := sf.Tag.Get("env")

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			nested := prefix
			if envTag != "" {
				if nested != "" {
					nested = nested + "_" + envTag
				} else {
					nested = envTag
				}
			}
			if err := applyEnv(field, nested); err != nil {
				return err
			}
			continue
		}

		if envTag == "" {
			continue
		}
		key := envTag
		if prefix != "" {
			key = prefix + "_" + envTag
		}
		val, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err := setField(field, val); err != nil {
			return pferr.Wrapf(err, pferr.CodeInternalConfiguration,
				"config: failed to set field %q from env var %q", sf.Name, key)
		}
	}
	return nil
}

// checkRequired verifies that every field tagged `required:"true"` holds a
// non-zero value. path carries the dotted field path for error messages.
func checkRequired(rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}
		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}
		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := checkRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}
		if sf.Tag.Get("required") != "true" {
			continue
		}
		if field.IsZero() {
			return pferr.Newf(pferr.CodeValidationRequired,
				"config: required field %q is empty", fieldPath)
		}
	}
	return nil
}

// setField parses value and assigns it to field. Supported kinds: string
// (including named string types), bool, signed integers, time.Duration,
// and []string (comma-separated, whitespace-trimmed).
func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		// MakeSlice with the field's own type supports named slice types.
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(strings.TrimSpace(p))
		}
		field.Set(slice)

	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
