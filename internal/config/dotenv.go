package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads each existing file in paths, then ./.env. Variables already
// present in the environment are never overwritten, so the first file to set a
// variable wins.
func LoadDotEnv(paths ...string) {
	for _, path := range append(paths, ".env") {
		if path != "" {
			loadIfExists(path)
		}
	}
}

func loadIfExists(path string) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err := godotenv.Load(path); err != nil {
		slog.Debug("failed to load .env file", "path", path, "error", err)
		return
	}
	slog.Debug("loaded environment from .env", "path", path)
}
