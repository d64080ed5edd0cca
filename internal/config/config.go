package config

import (
	"os"
	"strconv"
)

type Config struct {
	Env       string
	ServerURL string
	WSURL     string
	// Stub server settings, only read by cmd/stubserver.
	Addr      string
	JWTSecret string
	JWTTTLMin int
	SQLITEDsn string
	// PostgresDSN switches the stub server to postgres when non-empty.
	PostgresDSN string
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func MustLoad() Config {
	jwtttl, _ := strconv.Atoi(getenv("JWT_TTL_MIN", "1440"))

	cfg := Config{
		Env:         getenv("APP_ENV", "dev"),
		ServerURL:   getenv("SERVER_URL", "http://localhost:8080"),
		WSURL:       getenv("WS_URL", "ws://localhost:8080/api/ws"),
		Addr:        getenv("HTTP_ADDR", ":8080"),
		JWTSecret:   getenv("JWT_SECRET", "dev-secret"),
		JWTTTLMin:   jwtttl,
		SQLITEDsn:   getenv("SQLITE_DSN", "file:chat.db?_pragma=foreign_keys(ON)"),
		PostgresDSN: getenv("POSTGRES_DSN", ""),
	}
	return cfg
}
