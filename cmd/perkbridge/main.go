// perkbridge - donator perk bridge between a game server and Discord
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sunfall-smp/perkbridge/internal/api"
	"github.com/sunfall-smp/perkbridge/internal/auth"
	"github.com/sunfall-smp/perkbridge/internal/backup"
	"github.com/sunfall-smp/perkbridge/internal/bus"
	"github.com/sunfall-smp/perkbridge/internal/config"
	"github.com/sunfall-smp/perkbridge/internal/discord"
	"github.com/sunfall-smp/perkbridge/internal/dispatch"
	"github.com/sunfall-smp/perkbridge/internal/domain"
	"github.com/sunfall-smp/perkbridge/internal/gameserver"
	"github.com/sunfall-smp/perkbridge/internal/metrics"
	"github.com/sunfall-smp/perkbridge/internal/policy"
	"github.com/sunfall-smp/perkbridge/internal/probe"
	"github.com/sunfall-smp/perkbridge/internal/storage"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "logs":
		cmdLogs(os.Args[2:])
	case "user":
		cmdUser(os.Args[2:])
	case "version":
		fmt.Printf("perkbridge %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: perkbridge <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                        Start the bridge")
	fmt.Println("  status                       Show bridge status")
	fmt.Println("  logs [--limit N]             Show recent audit entries")
	fmt.Println("  user add [--admin] <name>    Add an API user (prompts for password)")
	fmt.Println("  user remove <name>           Remove an API user")
	fmt.Println("  user list                    List API users")
	fmt.Println("  version                      Show version")
	fmt.Println("  help                         Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default perkbridge.yml)")
	fmt.Println("  --url <url>        Base URL of a running bridge (status/logs)")
}

// loadConfig sources an optional .env file and reads the YAML config
func loadConfig(path string) *config.Config {
	_ = godotenv.Load()

	if path == "" {
		if _, err := os.Stat("perkbridge.yml"); err == nil {
			path = "perkbridge.yml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// cmdServe starts the bridge
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("PerkBridge %s starting...", version)

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	log.Printf("Database initialized at %s", cfg.Database.Path)

	table, err := policy.Load(cfg.Policy.Path)
	if err != nil {
		log.Fatalf("Failed to load command policy: %v", err)
	}
	log.Printf("Command policy loaded from %s", cfg.Policy.Path)

	b, err := bus.New()
	if err != nil {
		log.Fatalf("Failed to start event bus: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prober := probe.New(cfg.GameAddr(), cfg.Game.ProbeTimeout)
	go prober.Watch(ctx, cfg.Game.ProbeInterval)

	game := gameserver.New(cfg.Game, cfg.GameAddr(), prober, b)
	go game.Run(ctx)

	flows := dispatch.NewFlowCoordinator(cfg.Game.CaptureWindow)
	pipe := dispatch.New(store, table, game, b, flows, cfg.Game.AdminHandles)

	if _, err := b.Subscribe(domain.SubjectChat, func(data []byte) {
		var ev domain.ChatEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("Decoding chat event: %v", err)
			return
		}
		pipe.HandleChat(ctx, ev)
	}); err != nil {
		log.Fatalf("Failed to subscribe to chat events: %v", err)
	}

	bot, err := discord.New(cfg.Discord, store, table, flows, game, prober, b)
	if err != nil {
		log.Fatalf("Failed to create control channel: %v", err)
	}
	if err := bot.Start(); err != nil {
		log.Fatalf("Failed to start control channel: %v", err)
	}
	defer bot.Close()
	log.Printf("Control channel started for operator %s", cfg.Discord.OperatorID)

	snapshots := backup.New(cfg.Database.Path, cfg.Backup.Dir, cfg.Backup.Interval, cfg.Backup.Retain)
	go snapshots.Run(ctx)

	// Mirror connection state into the metrics gauges
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetBool(metrics.GameConnected, game.Connected())
				metrics.SetBool(metrics.ServerReachable, prober.Online())
			}
		}
	}()

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	if cfg.Auth.JWTSecret == "" {
		log.Printf("Warning: No JWT secret configured. Auth tokens will use an empty secret.")
	}

	router := api.NewRouter(store, table, game, prober, authService)
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.ListenAddr, cfg.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case err := <-serverErr:
		log.Printf("HTTP server error: %v", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	log.Printf("Shutdown complete")
}

// cmdStatus queries a running bridge's status endpoint
func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	baseURL := fs.String("url", "", "base URL of a running bridge")
	fs.Parse(args)

	body := fetch(*baseURL, *configPath, "/")
	var status struct {
		Status          string          `json:"status"`
		GameConnected   bool            `json:"gameConnected"`
		ServerReachable bool            `json:"serverReachable"`
		Counters        domain.Counters `json:"counters"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		log.Fatalf("Failed to parse status response: %v", err)
	}

	fmt.Printf("Status:           %s\n", status.Status)
	fmt.Printf("Game session:     %t\n", status.GameConnected)
	fmt.Printf("Server reachable: %t\n", status.ServerReachable)
	fmt.Printf("Accepted:         %d\n", status.Counters.Accepted)
	fmt.Printf("Granted:          %d\n", status.Counters.Granted)
	fmt.Printf("Blocked:          %d\n", status.Counters.Blocked)
}

// cmdLogs prints recent audit entries from a running bridge
func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	baseURL := fs.String("url", "", "base URL of a running bridge")
	limit := fs.Int("limit", 20, "number of entries")
	fs.Parse(args)

	body := fetch(*baseURL, *configPath, fmt.Sprintf("/logs?limit=%d", *limit))
	var entries []domain.AuditEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		log.Fatalf("Failed to parse logs response: %v", err)
	}

	for _, e := range entries {
		outcome := "rejected"
		if e.Accepted {
			outcome = "accepted"
		}
		fmt.Printf("%s  %-16s !%-12s %-8s %s\n",
			e.Timestamp.Format(time.DateTime), e.Handle, e.Command, outcome, e.Reason)
	}
}

// fetch GETs a path on the bridge HTTP API
func fetch(baseURL, configPath, path string) []byte {
	if baseURL == "" {
		cfg := loadConfig(configPath)
		baseURL = fmt.Sprintf("http://%s:%d", cfg.HTTP.ListenAddr, cfg.HTTP.Port)
	}
	resp, err := http.Get(baseURL + path)
	if err != nil {
		log.Fatalf("Failed to reach bridge at %s: %v", baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read response: %v", err)
	}
	return body
}

// cmdUser manages API users
func cmdUser(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: perkbridge user <add|remove|list> [options]")
		os.Exit(1)
	}

	sub := args[0]
	fs := flag.NewFlagSet("user "+sub, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	isAdmin := fs.Bool("admin", false, "grant admin access")
	fs.Parse(args[1:])

	cfg := loadConfig(*configPath)
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	switch sub {
	case "add":
		if fs.NArg() != 1 {
			log.Fatalf("Usage: perkbridge user add [--admin] <username>")
		}
		username := fs.Arg(0)
		fmt.Printf("Password for %s: ", username)
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			log.Fatalf("Failed to read password: %v", err)
		}
		hash, err := auth.HashPassword(string(password))
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		if err := store.CreateUser(ctx, username, hash, *isAdmin); err != nil {
			log.Fatalf("Failed to create user: %v", err)
		}
		fmt.Printf("User %s created\n", username)
	case "remove":
		if fs.NArg() != 1 {
			log.Fatalf("Usage: perkbridge user remove <username>")
		}
		if err := store.DeleteUser(ctx, fs.Arg(0)); err != nil {
			log.Fatalf("Failed to remove user: %v", err)
		}
		fmt.Printf("User %s removed\n", fs.Arg(0))
	case "list":
		users, err := store.ListUsers(ctx)
		if err != nil {
			log.Fatalf("Failed to list users: %v", err)
		}
		for _, u := range users {
			admin := ""
			if u.IsAdmin {
				admin = " (admin)"
			}
			fmt.Printf("%s%s\n", u.Username, admin)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown user subcommand: %s\n", sub)
		os.Exit(1)
	}
}
