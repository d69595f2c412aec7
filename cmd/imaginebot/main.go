package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roelfdiedericks/imaginebot/internal/auth"
	"github.com/roelfdiedericks/imaginebot/internal/config"
	. "github.com/roelfdiedericks/imaginebot/internal/logging"
	"github.com/roelfdiedericks/imaginebot/internal/session"
	"github.com/roelfdiedericks/imaginebot/internal/stability"
	"github.com/roelfdiedericks/imaginebot/internal/supervisor"
	"github.com/roelfdiedericks/imaginebot/internal/telegram"
	"github.com/roelfdiedericks/imaginebot/internal/watermark"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("imaginebot %s\n", version)
		return
	}

	// Initialize logging
	Init(&Config{
		Level:      LevelInfo,
		ShowCaller: true,
	})

	L_info("imaginebot %s starting", version)

	// Load config
	cfg, err := config.Load()
	if err != nil {
		L_fatal("failed to load config: %v", err)
	}
	SetLevel(ParseLevel(cfg.LogLevel))
	L_debug("config loaded", "logLevel", cfg.LogLevel, "watermark", cfg.Watermark.Enabled)

	gate := auth.New(cfg.Auth.AllowedUsers, cfg.Auth.AllowedAdmins)
	store := session.NewStore()

	wm := watermark.NewToggle(cfg.Watermark.Enabled)
	pipeline := watermark.NewPipeline(wm, cfg.Watermark.LogoPath)

	client := stability.NewClient(cfg.Stability.APIKey, cfg.Stability.BaseURL)
	exec := stability.NewExecutor(client, store, pipeline)
	exec.SetProgressInterval(cfg.Timeouts.Progress())
	engine := session.NewEngine(store, gate, wm, exec)

	bot, err := telegram.New(&cfg.Telegram, engine, gate)
	if err != nil {
		L_fatal("failed to start telegram bot: %v", err)
	}
	exec.SetTransport(bot)

	sup := supervisor.New(store, bot, cfg.Timeouts.Step(), cfg.Timeouts.Stall(), cfg.Timeouts.Tick())
	if err := sup.Start(); err != nil {
		L_fatal("failed to start supervisor: %v", err)
	}

	go bot.Start()
	L_info("imaginebot ready")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	L_info("shutting down")
	sup.Stop()
	bot.Stop()
}
