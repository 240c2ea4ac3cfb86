// Command appkey-stubd serves the in-process identity server stub over
// HTTP, for developing against the client without a real backend.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/cosync/appkey-go/internal/stubserver"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	cfg := stubserver.DefaultConfig()
	if v := os.Getenv("APPKEY_APP_TOKEN"); v != "" {
		cfg.AppToken = v
	}
	if v := os.Getenv("APPKEY_RP_ID"); v != "" {
		cfg.RPID = v
	}
	if v := os.Getenv("APPKEY_RP_ORIGIN"); v != "" {
		cfg.RPOrigin = v
	}

	srv, err := stubserver.New(cfg)
	if err != nil {
		slog.Error("create stub server", "error", err)
		os.Exit(1)
	}

	slog.Info("stub identity server listening", "addr", *addr, "appToken", cfg.AppToken)
	if err := srv.Run(*addr); err != nil {
		slog.Error("serve", "error", err)
		os.Exit(1)
	}
}
