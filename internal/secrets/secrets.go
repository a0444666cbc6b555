// Package secrets resolves credentials given in config as literals, ${VAR}
// references or files such as Docker and Kubernetes mounted secrets.
// Secret values are never logged.
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
)

const (
	// secrets are tokens and passwords, never large files
	maxSecretFileSize = 64 * 1024

	// group and other permission bits
	insecurePermMask = 0o077
)

// ExpandString expands ${VAR} and ${VAR:-default} references in s. A
// referenced variable that is unset and has no default is an error.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing required environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret from path, trimming trailing newlines. Files
// readable by group or other are accepted with a warning.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", fileError(nil, "secret file path is empty", path)
	}
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fileError(err, "secret file not found", cleanPath)
		}
		return "", fileError(err, "failed to stat secret file", cleanPath)
	}
	if !info.Mode().IsRegular() {
		return "", fileError(nil, "secret path is not a regular file", cleanPath)
	}
	if info.Size() > maxSecretFileSize {
		return "", fileError(nil, "secret file too large", cleanPath)
	}
	if perm := info.Mode().Perm(); perm&insecurePermMask != 0 {
		logger.Global().Module("secrets").Warn("secret file is readable by group or other",
			logger.String("path", cleanPath),
			logger.String("perm", perm.String()))
	}

	data, err := os.ReadFile(cleanPath) //nolint:gosec // path comes from config
	if err != nil {
		return "", fileError(err, "failed to read secret file", cleanPath)
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fileError(nil, "secret file is empty", cleanPath)
	}
	return secret, nil
}

// Resolve returns the secret from filePath when set, otherwise value with
// environment references expanded. Both empty resolves to "".
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		return ReadFile(filePath)
	}
	return ExpandString(value)
}

func fileError(err error, msg, path string) error {
	if err == nil {
		err = errors.NewStd(msg)
	}
	return errors.New(err).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		Context("reason", msg).
		Context("path", path).
		Build()
}
