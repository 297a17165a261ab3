package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIPort string
	JWTKey  []byte
	JWTExp  time.Duration

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string
	DBConnStr  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SandboxURL       string
	SandboxTimeLimit time.Duration
	PythonVersion    string

	LeaderboardKey          string
	LeaderboardSyncInterval time.Duration
	LeaderboardTopN         int

	LogLevel  string
	LogFormat string
}

// Load reads the optional .env file and the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		APIPort:       getEnv("API_PORT", "8080"),
		JWTKey:        []byte(getEnv("JWT_SECRET", "defaultsecret")),
		JWTExp:        time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 72)) * time.Hour,
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "user"),
		DBPassword:    getEnv("DB_PASSWORD", "password"),
		DBName:        getEnv("DB_NAME", "code_playground_db"),
		DBSslMode:     getEnv("DB_SSLMODE", "disable"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		SandboxURL:       getEnv("SANDBOX_URL", "https://emkc.org/api/v2/piston/execute"),
		SandboxTimeLimit: getEnvAsDuration("SANDBOX_TIME_LIMIT_MS", 10000, time.Millisecond),
		PythonVersion:    getEnv("PYTHON_VERSION", "3.10.0"),

		LeaderboardKey:          getEnv("LEADERBOARD_KEY", "leaderboard:global"),
		LeaderboardSyncInterval: getEnvAsDuration("LEADERBOARD_SYNC_INTERVAL_SECONDS", 300, time.Second),
		LeaderboardTopN:         getEnvAsInt("LEADERBOARD_TOP_N", 100),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	cfg.DBConnStr = "host=" + cfg.DBHost +
		" port=" + cfg.DBPort +
		" user=" + cfg.DBUser +
		" password=" + cfg.DBPassword +
		" dbname=" + cfg.DBName +
		" sslmode=" + cfg.DBSslMode
	return cfg
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback int, unit time.Duration) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * unit
}
