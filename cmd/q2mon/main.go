package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"q2mon-go/client"
	"q2mon-go/internal/config"
	"q2mon-go/internal/events"
	"q2mon-go/pkg/logger"
)

const (
	Version = "1.0.0"
)

func main() {
	logger.Banner("Quake 2 Protocol Monitor", Version)

	cfg := loadConfig()

	logger.Info("Server: %s:%d", cfg.ServerIP, cfg.ServerPort)
	logger.Info("Player name: %s", cfg.PlayerName)
	logger.Info("Passive mode: %v", cfg.PassiveMode)
	logger.Info("Monitor mode: %v", cfg.MonitorMode)
	logger.Success("Configuration loaded successfully")

	c := client.New(cfg)
	setupEventLogging(c)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	errChan := make(chan error, 1)
	go func() {
		if err := c.Connect(context.Background()); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		logger.Fatal("connection error: %v", err)
	case sig := <-sigChan:
		logger.Warn("received signal: %v", sig)
		logger.Info("shutting down gracefully...")

		c.Disconnect()
		time.Sleep(500 * time.Millisecond)

		logger.Success("disconnected")
		os.Exit(0)
	}
}

func loadConfig() config.Config {
	cfg := config.Default()

	pflag.StringVar(&cfg.ServerIP, "server", "", "server IP address to connect to")
	pflag.IntVar(&cfg.ServerPort, "port", cfg.ServerPort, "server UDP port")
	pflag.StringVar(&cfg.PlayerName, "name", "q2mon", "player name sent in userinfo")
	pflag.BoolVar(&cfg.PassiveMode, "passive", false, "spawn immediately after precache without sending begin")
	pflag.BoolVar(&cfg.MonitorMode, "monitor", false, "OOB status polling only; no netchan connection is opened")
	pflag.DurationVar(&cfg.MonitorInterval, "monitor-interval", cfg.MonitorInterval, "interval between OOB status polls")
	pflag.IntVar(&cfg.MaxReconnectAttempts, "max-reconnects", cfg.MaxReconnectAttempts, "reconnect attempts before giving up")
	pflag.BoolVar(&cfg.Debug, "debug", false, "verbose decode logging")
	pflag.Parse()

	if cfg.ServerIP == "" {
		logger.Fatal("missing required flag: --server")
	}
	return cfg
}

func setupEventLogging(c *client.Client) {
	c.Subscribe(events.KindConsoleMessage, events.SinkFunc(func(e events.Event) {
		cm := e.Payload.(events.ConsoleMessage)
		logger.Info("[%s] %s", cm.Level, cm.Text)
	}))
	c.Subscribe(events.KindServerInfo, events.SinkFunc(func(e events.Event) {
		si := e.Payload.(events.ServerInfo)
		switch si.Event {
		case "connected":
			logger.Success("connected to %s (%s)", si.Map, si.GameDir)
		case "map_change":
			logger.Info("map changed: %s -> %s", si.PreviousMap, si.Map)
		case "player_join":
			logger.Info("player joined: %s", si.PlayerName)
		case "player_leave":
			logger.Info("player left: %s", si.PlayerName)
		}
	}))
	c.Subscribe(events.KindConnection, events.SinkFunc(func(e events.Event) {
		conn := e.Payload.(events.Connection)
		logger.Warn("connection status: %s (%s)", conn.Status, conn.Reason)
	}))
}
