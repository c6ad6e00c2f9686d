// Package config loads the B2BUA's process configuration from flags
// and environment variables, in the teacher's layering (flags set
// defaults, environment variables override them).
package config

import (
	"flag"
	"net"
	"os"
	"strconv"

	"github.com/tinysip/b2bua/internal/worker"
)

// Config holds everything main needs to wire up a running process.
// spec.md §6 calls the SIP address/port and the worker pool sizing
// "compile-time constants"; this keeps the same defaults but exposes
// them as flags/env vars, matching how the teacher's own signaling
// service treats its nominally-fixed settings (services/signaling/config.Config).
type Config struct {
	BindAddr      string
	Port          int
	AdvertiseAddr string
	LogLevel      string
	LogFormat     string

	WorkerCount   int
	QueueCapacity int

	HealthPort int
}

// Load parses flags, then applies environment overrides, matching the
// teacher's precedence order.
func Load() *Config {
	cfg := &Config{
		WorkerCount:   worker.DefaultWorkerCount,
		QueueCapacity: worker.DefaultQueueCapacity,
	}

	flag.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "SIP UDP bind address")
	flag.IntVar(&cfg.Port, "port", 5060, "SIP UDP listening port")
	flag.StringVar(&cfg.AdvertiseAddr, "advertise", "", "address advertised in SIP headers (auto-detected if not set)")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "logformat", "text", "log output format (text, json)")
	flag.IntVar(&cfg.WorkerCount, "workers", worker.DefaultWorkerCount, "number of call-processing workers")
	flag.IntVar(&cfg.QueueCapacity, "queue-capacity", worker.DefaultQueueCapacity, "per-worker queue capacity")
	flag.IntVar(&cfg.HealthPort, "health-port", 9090, "gRPC health/reflection listening port")
	flag.Parse()

	if v := os.Getenv("SIP_BIND_ADDRESS"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("SIP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("SIP_SERVER_IP_ADDRESS"); v != "" {
		cfg.AdvertiseAddr = v
	} else if cfg.AdvertiseAddr == "" {
		cfg.AdvertiseAddr = primaryInterfaceIP()
	}
	if v := os.Getenv("LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOGFORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("HEALTH_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.HealthPort = p
		}
	}

	return cfg
}

// primaryInterfaceIP picks the first non-loopback IPv4 address, for
// when no advertise address is configured.
func primaryInterfaceIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}
