// conf/utils.go: config file discovery helpers
package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/tphakala/dipper-go/internal/errors"
)

const appDirName = "dipper"

// GetDefaultConfigPaths returns the config search path for this OS.
// When one of them already holds config.yaml only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case "windows":
		configPaths = []string{
			filepath.Join(homeDir, "AppData", "Roaming", appDirName),
			".",
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", appDirName),
			"/etc/" + appDirName,
			".",
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}
