package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/ageniuscoder/mmchat/client/internal/config"
	"github.com/ageniuscoder/mmchat/client/internal/obs"
	"github.com/ageniuscoder/mmchat/client/internal/stubserver"
	"github.com/ageniuscoder/mmchat/client/internal/stubserver/storage/postgres"
	"github.com/ageniuscoder/mmchat/client/internal/stubserver/storage/sqlite"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()
	logger := obs.NewLogger(cfg.Env)

	var (
		db     *sql.DB
		driver string
	)
	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn, err := postgres.Open(ctx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		defer conn.Close()
		db, driver = conn.DB, "postgres"
	} else {
		conn, err := sqlite.Open(cfg.SQLITEDsn)
		if err != nil {
			log.Fatalf("open sqlite: %v", err)
		}
		defer conn.Close()
		db, driver = conn.DB, "sqlite"
	}

	srv := stubserver.New(db, driver, cfg.JWTSecret, cfg.JWTTTLMin, logger)
	defer srv.Close()

	logger.Info("stub server listening", "addr", cfg.Addr, "driver", driver)
	if err := http.ListenAndServe(cfg.Addr, srv.Handler()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
