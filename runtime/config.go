package runtime

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ApplyDefaults fills zero fields of a config struct from `default:` tags.
func ApplyDefaults(config any) error {
	if err := defaults.Set(config); err != nil {
		return fmt.Errorf("failed to apply defaults: %w", err)
	}
	return nil
}

// ValidateConfig checks a config struct against its `validate:` tags.
func ValidateConfig(config any) error {
	v := reflect.ValueOf(config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if err := validate.Struct(v.Interface()); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// InitializeConfig prepares a config struct for use: defaults first, then
// validation of the final values.
func InitializeConfig(config any) error {
	if err := ApplyDefaults(config); err != nil {
		return err
	}
	return ValidateConfig(config)
}

// envVarPattern matches ${VAR} and ${VAR:default} syntax.
var envVarPattern = regexp.MustCompile(`^\$\{([A-Z_][A-Z0-9_]*)(:[^}]*)?\}$`)

// ResolveEnvVar resolves ${VAR} references in definition property values.
// A reference without a default for an unset variable is an error: flows
// must not start with silently missing properties.
func ResolveEnvVar(value any) (any, error) {
	strValue, ok := value.(string)
	if !ok {
		return value, nil
	}

	matches := envVarPattern.FindStringSubmatch(strValue)
	if matches == nil {
		return value, nil
	}

	varName := matches[1]
	defaultPart := matches[2]

	if envValue, exists := os.LookupEnv(varName); exists {
		return envValue, nil
	}
	if defaultPart != "" {
		return strings.TrimPrefix(defaultPart, ":"), nil
	}
	return nil, fmt.Errorf("required environment variable not set: %s", varName)
}
