package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/harun/chainpilot/internal/config"
	"github.com/joho/godotenv"
)

// loadConfig reads the dotenv file, then the config, then applies the
// --log-level flag.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}
