package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

var (
	exportMu sync.Mutex
	exported = map[string]bool{}
)

// New exports envFile (or ./.env when envFile is empty and the file exists)
// into the process environment and decodes T from variables under prefix.
// Variables already present in the environment win over the file.
func New[T any](prefix string, envFile string) (*T, error) {
	if err := ensureExported(strings.TrimSpace(envFile)); err != nil {
		return nil, err
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, fmt.Errorf("process %s config: %w", prefixLabel(prefix), err)
	}

	return &conf, nil
}

func ensureExported(path string) error {
	exportMu.Lock()
	defer exportMu.Unlock()

	key := path
	if key == "" {
		key = ".env"
	}
	if exported[key] {
		return nil
	}

	var err error
	if path != "" {
		err = exportEnvironment(path)
		if err != nil {
			err = fmt.Errorf("failed to load env file: %w", err)
		}
	} else {
		err = exportEnvironmentIfExists(".env")
		if err != nil {
			err = fmt.Errorf("failed to load default env file: %w", err)
		}
	}
	if err != nil {
		return err
	}
	exported[key] = true
	return nil
}

func exportEnvironmentIfExists(filepath string) error {
	info, err := os.Stat(filepath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return exportEnvironment(filepath)
}

func exportEnvironment(filepath string) error {
	v := viper.New()
	v.SetConfigFile(filepath)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	for k, val := range v.AllSettings() {
		name := strings.ToUpper(k)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, fmt.Sprint(val)); err != nil {
			return err
		}
	}

	return nil
}

func prefixLabel(prefix string) string {
	if prefix == "" {
		return "app"
	}
	return strings.ToLower(prefix)
}
