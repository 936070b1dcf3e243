package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App   AppConfig
	Notes NotesConfig
}

type AppConfig struct {
	Environment string
	LogFilePath string
	RedisURL    string
	NatsURL     string
}

type NotesConfig struct {
	// RetentionWindow is how long an unpinned, unlocked note survives
	// before the reconciliation pass removes it.
	RetentionWindow time.Duration

	// DebounceInterval delays outbound autosave writes so rapid edits
	// coalesce into one write.
	DebounceInterval time.Duration

	// MasterPassword gates the full-collection wipe. When
	// MasterPasswordHash is set it takes precedence and is compared with
	// bcrypt instead of plain equality.
	MasterPassword     string
	MasterPasswordHash string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Environment: getEnv("GO_ENV", "development"),
			LogFilePath: getEnv("LOG_FILE_PATH", "app.log"),
			RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
			NatsURL:     getEnv("NATS_URL", "nats://localhost:4222"),
		},
		Notes: NotesConfig{
			RetentionWindow:    time.Duration(getEnvAsInt("NOTE_RETENTION_HOURS", 36)) * time.Hour,
			DebounceInterval:   time.Duration(getEnvAsInt("AUTOSAVE_DEBOUNCE_MS", 500)) * time.Millisecond,
			MasterPassword:     getEnv("MASTER_DELETE_PASSWORD", ""),
			MasterPasswordHash: getEnv("MASTER_DELETE_PASSWORD_HASH", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}
