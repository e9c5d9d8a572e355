package main

import (
	app "announcement-engine/internal/app/server"
	"announcement-engine/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)
	app.Run(cfg)
}
