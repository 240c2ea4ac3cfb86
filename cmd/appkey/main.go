// Command appkey runs one of the authentication flows against an identity
// API deployment, using a software authenticator in place of a device
// passkey facility. It exists for development and smoke testing against
// the stub server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"

	appkey "github.com/cosync/appkey-go"
	"github.com/cosync/appkey-go/adapters/authenticator"
	"github.com/cosync/appkey-go/adapters/events"
	"github.com/cosync/appkey-go/adapters/store"
)

func main() {
	var (
		flow   = flag.String("flow", "signup", "flow to run: signup, login or anonymous")
		handle = flag.String("handle", "", "account handle (email or phone)")
		name   = flag.String("name", "Demo User", "display name for signup")
		code   = flag.String("code", "", "verification code for signup (prompted when empty)")
		rpID   = flag.String("rp-id", "localhost", "relying party id")
		origin = flag.String("origin", "http://localhost", "relying party origin")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}))

	cfg, err := appkey.ConfigFromEnv()
	if err != nil {
		log.Error("load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	opts := []appkey.Option{appkey.WithLogger(log)}

	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		opts = append(opts, appkey.WithStore(redisStore, cfg.SessionKey))

		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redisStore.Client()},
			watermill.NewStdLogger(false, false),
		)
		if err != nil {
			log.Error("create event publisher", "error", err)
			os.Exit(1)
		}
		opts = append(opts, appkey.WithEventPublisher(events.NewWatermillPublisher(publisher, cfg.EventTopic)))
	}

	authn := authenticator.NewVirtual(*rpID, "appkey demo", *origin)
	client := appkey.New(cfg, authn, opts...)

	app, err := client.GetApp(ctx)
	if err != nil {
		log.Error("fetch app configuration", "error", err)
		os.Exit(1)
	}
	log.Info("connected", "app", app.DisplayAppName, "handleType", app.HandleType)

	switch *flow {
	case "signup":
		runSignup(ctx, client, log, *handle, *name, *code)
	case "login":
		runLogin(ctx, client, log, *handle)
	case "anonymous":
		runAnonymous(ctx, client, log)
	default:
		log.Error("unknown flow", "flow", *flow)
		os.Exit(1)
	}
}

func runSignup(ctx context.Context, client appkey.Client, log *slog.Logger, handle, name, code string) {
	if handle == "" {
		log.Error("signup requires -handle")
		os.Exit(1)
	}
	result, err := client.Signup(ctx, handle, name, "EN")
	if err != nil {
		log.Error("signup", "error", err)
		os.Exit(1)
	}
	fmt.Println(result.Message)

	if code == "" {
		fmt.Print("verification code: ")
		if _, err := fmt.Scanln(&code); err != nil {
			log.Error("read verification code", "error", err)
			os.Exit(1)
		}
	}
	profile, err := client.SignupComplete(ctx, code)
	if err != nil {
		log.Error("signup complete", "error", err)
		os.Exit(1)
	}
	log.Info("signed up", "handle", profile.Handle, "displayName", profile.DisplayName)
}

func runLogin(ctx context.Context, client appkey.Client, log *slog.Logger, handle string) {
	if handle == "" {
		log.Error("login requires -handle")
		os.Exit(1)
	}
	result, err := client.Login(ctx, handle)
	if err != nil {
		log.Error("login", "error", err)
		os.Exit(1)
	}
	if result.RequireAddPasskey {
		log.Warn("account has no usable passkey, run the reset flow first", "handle", handle)
		return
	}
	log.Info("logged in", "handle", result.Profile.Handle)
}

func runAnonymous(ctx context.Context, client appkey.Client, log *slog.Logger) {
	profile, err := client.LoginAnonymous(ctx)
	if err != nil {
		log.Error("anonymous login", "error", err)
		os.Exit(1)
	}
	log.Info("logged in anonymously", "handle", profile.Handle)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
