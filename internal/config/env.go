package config

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/banshee-data/crashrisk/internal/monitoring"
)

// Env holds default paths taken from the environment, optionally seeded
// from a .env file in the working directory.
type Env struct {
	DataDir    string // FARS CSV directory
	DBPath     string // sqlite store
	OutputDir  string // tables and figures
	ConfigPath string // RunConfig JSON; empty means built-in defaults
}

// LoadEnv reads files (default ".env") into the process environment
// without overriding variables already set, then returns the paths.
func LoadEnv(files ...string) Env {
	if err := godotenv.Load(files...); err != nil {
		monitoring.Logf("[config] no .env file loaded, using process environment")
	}
	return Env{
		DataDir:    getEnv("CRASHRISK_DATA_DIR", "data"),
		DBPath:     getEnv("CRASHRISK_DB", "crashrisk.db"),
		OutputDir:  getEnv("CRASHRISK_OUTPUT_DIR", "output"),
		ConfigPath: getEnv("CRASHRISK_CONFIG", ""),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
