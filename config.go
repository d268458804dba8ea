package formprobe

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadOptions reads a YAML options file on top of DefaultOptions. A missing
// file yields the defaults. ${VAR} references in executable_path, proxy,
// user_agent and extra_headers values are expanded from the environment.
func LoadOptions(path string) (*Options, error) {
	opts := DefaultOptions()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return opts, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	opts.ExecutablePath = expandEnvString(opts.ExecutablePath)
	opts.Proxy = expandEnvString(opts.Proxy)
	opts.UserAgent = expandEnvString(opts.UserAgent)
	for k, v := range opts.ExtraHeaders {
		opts.ExtraHeaders[k] = expandEnvString(v)
	}

	opts.applyDefaults()

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return opts, nil
}

func (o *Options) Validate() error {
	if !PasswordIsComplex(o.Values.Password) {
		return fmt.Errorf("password %q must have 8+ characters with a digit, upper, lower and symbol", o.Values.Password)
	}
	switch o.Dispatch {
	case DispatchPage, DispatchHTTP:
	default:
		return fmt.Errorf("unknown dispatch mode %q", o.Dispatch)
	}
	for _, r := range o.NameRules {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("name rule %q: %w", r.Pattern, err)
		}
	}
	for _, p := range o.ExcludedUrls {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("excluded url %q: %w", p, err)
		}
	}
	return nil
}

func expandEnvString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}
