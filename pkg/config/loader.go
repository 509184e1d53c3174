package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)
	distroPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)
)

// Override changes a configuration after the file is loaded. Command-line
// flags are applied this way.
type Override func(*WorkflowConfig)

// Build returns defaults overlaid with the YAML file at path (if any) and
// then with overrides, validated.
func Build(path string, overrides ...Override) (WorkflowConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return WorkflowConfig{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Decode(data, &cfg); err != nil {
			return WorkflowConfig{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	for _, override := range overrides {
		override(&cfg)
	}

	if err := Validate(cfg); err != nil {
		return WorkflowConfig{}, err
	}
	return cfg.Clone(), nil
}

// Decode overlays YAML data onto cfg. Unknown keys are rejected.
func Decode(data []byte, cfg *WorkflowConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Encode renders cfg as YAML.
func Encode(cfg WorkflowConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Validate checks cfg and joins every violation into one error.
func Validate(cfg WorkflowConfig) error {
	err := newValidator().Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("linux_username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("distro_name", func(fl validator.FieldLevel) bool {
		return distroPattern.MatchString(fl.Field().String())
	})
	return v
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "WorkflowConfig.")
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "linux_username":
		return fmt.Sprintf("%s %q is not a valid Linux user or group name", field, fe.Value())
	case "distro_name":
		return fmt.Sprintf("%s %q is not a valid distribution name", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
