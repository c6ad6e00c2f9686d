// Command tinysipd runs the SIP back-to-back user agent as a
// standalone UDP process, wiring together the location directory,
// call table, message builder, registrar and state machine behind a
// bounded worker pool, plus a gRPC health endpoint for load balancers.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tinysip/b2bua/internal/b2bua"
	"github.com/tinysip/b2bua/internal/calltable"
	"github.com/tinysip/b2bua/internal/config"
	"github.com/tinysip/b2bua/internal/health"
	"github.com/tinysip/b2bua/internal/location"
	"github.com/tinysip/b2bua/internal/registration"
	"github.com/tinysip/b2bua/internal/sipbuilder"
	"github.com/tinysip/b2bua/internal/transport"
	"github.com/tinysip/b2bua/internal/worker"
)

func main() {
	cfg := config.Load()
	initLogger(cfg.LogLevel, cfg.LogFormat)

	directory := location.New(seedDirectory())
	table := calltable.NewTable()
	builder := sipbuilder.New(cfg.AdvertiseAddr, uint16(cfg.Port))
	registrar := registration.New(directory, builder)
	core := b2bua.New(directory, table, builder, registrar)

	socket, err := transport.Listen(cfg.BindAddr, cfg.Port)
	if err != nil {
		slog.Error("failed to bind SIP socket", "error", err)
		os.Exit(1)
	}
	defer socket.Close()

	pool := worker.New(core, socket, cfg.WorkerCount, cfg.QueueCapacity)
	healthSrv := health.New(table)

	run(socket, pool, healthSrv, cfg)
}

func run(socket *transport.Socket, pool *worker.Pool, healthSrv *health.Server, cfg *config.Config) {
	slog.Info("starting tinysipd",
		"bind", cfg.BindAddr, "port", cfg.Port,
		"advertise", cfg.AdvertiseAddr, "workers", cfg.WorkerCount)
	logNetworkInterfaces()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)

	enqueue := func(dialogKey string, data []byte, sourceIP string, sourcePort uint16) {
		dg := worker.Datagram{Data: data, SourceIP: sourceIP, SourcePort: sourcePort}
		if err := pool.Enqueue(dialogKey, dg); err != nil {
			slog.Warn("dropping datagram, worker queue full", "dialog_key", dialogKey, "source_ip", sourceIP, "source_port", sourcePort, "error", err)
		}
	}

	go func() {
		if err := socket.Serve(enqueue); err != nil {
			slog.Error("transport stopped", "error", err)
		}
	}()

	go func() {
		if err := healthSrv.Serve(cfg.HealthPort); err != nil {
			slog.Error("health server stopped", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("received signal, shutting down", "signal", sig)

	healthSrv.Stop()
	socket.Close()
	cancel()
	pool.Wait()
	time.Sleep(100 * time.Millisecond)
}

// seedDirectory returns the directory's static startup population.
// A real deployment would load this from configuration; tinysipd
// hardcodes it since the B2BUA has no provisioning API of its own.
func seedDirectory() []location.Entry {
	return []location.Entry{
		{UserID: "1001", Realm: "tinysip"},
		{UserID: "1002", IP: "192.168.192.1", Port: 5070, Realm: "tinysip"},
	}
}

func initLogger(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func logNetworkInterfaces() {
	interfaces, err := net.Interfaces()
	if err != nil {
		return
	}
	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip, _, err := net.ParseCIDR(addr.String())
			if err != nil {
				continue
			}
			slog.Debug("network interface", "interface", iface.Name, "ip", ip.String())
		}
	}
}
