package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/brinebound/raknet"
	"github.com/brinebound/raknet/internal/telemetry"
)

const version = "1.0.0"

func main() {
	telemetry.Section("RakNet Echo Server - Built with Go")

	cfg := loadConfig()

	listener, err := raknet.Listen(cfg.Address, cfg.RakNet)
	if err != nil {
		telemetry.Fatal("listen %s: %v", cfg.Address, err)
	}
	listener.MOTD = &raknet.MOTD{
		ServerName:      cfg.ServerName,
		ProtocolVersion: int(cfg.RakNet.RakNetProtocolVersion),
		MCVersion:       "1.20.0",
		PlayerCount:     0,
		MaxPlayers:      cfg.MaxPlayers,
		GameMode:        raknet.GameModeSurvival,
		ServerGUID:      cfg.RakNet.ServerGUID,
		Port:            cfg.Port,
	}

	telemetry.Info("Server version: %s", version)
	telemetry.Info("Listening on %s", cfg.Address)
	telemetry.Info("Server name: %s", cfg.ServerName)
	telemetry.Info("Max players: %d", cfg.MaxPlayers)

	if err := listener.Start(); err != nil {
		telemetry.Fatal("start listener: %v", err)
	}
	telemetry.Info("Listener started successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go acceptLoop(ctx, listener)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	telemetry.Info("received signal: %v", sig)
	telemetry.Info("shutting down gracefully...")

	cancel()
	if err := listener.Close(); err != nil {
		telemetry.Warn("close listener: %v", err)
	}
	telemetry.Info("server stopped")
}

// acceptLoop admits new connections and echoes every payload it
// receives back to the sender, until ctx is cancelled.
func acceptLoop(ctx context.Context, l *raknet.Listener) {
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			return
		}
		telemetry.Info("connection accepted: %s", conn.RemoteAddr())
		go echo(ctx, conn)
	}
}

func echo(ctx context.Context, conn *raknet.Connection) {
	for {
		payload, err := conn.Recv(ctx)
		if err != nil {
			telemetry.Info("connection %s closed: %v", conn.RemoteAddr(), err)
			return
		}
		opts := raknet.SendOptions{
			Reliability:  raknet.ReliableOrdered,
			OrderChannel: 0,
			Priority:     raknet.PriorityNormal,
		}
		if err := conn.Send(payload, opts); err != nil {
			telemetry.Warn("send to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

type config struct {
	Address    string
	Port       uint16
	ServerName string
	MaxPlayers int
	RakNet     raknet.Config
}

func loadConfig() config {
	rnCfg := raknet.DefaultConfig()
	rnCfg.MCPE = true
	return config{
		Address:    "0.0.0.0:19132",
		Port:       19132,
		ServerName: "RakNet Echo Server",
		MaxPlayers: 20,
		RakNet:     rnCfg,
	}
}
