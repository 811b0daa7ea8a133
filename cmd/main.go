package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"legalaid/internal/api"
	"legalaid/internal/config"
	"legalaid/internal/graph"
	"legalaid/internal/ingest"
	"legalaid/internal/syncer"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "legalaid",
		Usage: "Turn scheduling orders into Outlook calendar events.",
		Commands: []*cli.Command{
			authCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Microsoft account to get an API token.",
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			logger := setupLogger(cfg.LogLevel)
			if cfg.ClientID == "" {
				return fmt.Errorf("GRAPH_CLIENT_ID environment variable not set")
			}
			logger.Info("Starting Microsoft authentication flow.")

			oauthConfig := graph.OAuthConfig(cfg.ClientID)
			authURL := oauthConfig.AuthCodeURL("state-token")
			fmt.Printf("Go to the following link in your browser then paste the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := graph.TokenFromWeb(oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			if err := graph.SaveToken(cfg.TokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", cfg.TokenFile)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scheduling assistant's HTTP API.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "Listen port. Overrides HTTP_PORT."},
		},
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			logger := setupLogger(cfg.LogLevel)
			if cfg.ClientID == "" {
				return fmt.Errorf("GRAPH_CLIENT_ID environment variable not set")
			}
			if c.IsSet("port") {
				cfg.HTTPPort = c.Int("port")
			}

			graphClient, err := graph.NewClient(c.Context, logger, cfg.ClientID, cfg.TokenFile)
			if err != nil {
				return fmt.Errorf("failed to create graph client: %w", err)
			}
			graphClient.ServiceContact = cfg.ServiceContact
			graphClient.SettleDelay = cfg.GroupSettle

			s := syncer.NewSyncer(logger, graphClient)

			var server *api.Server
			if cfg.IngestURL != "" {
				server = api.NewServer(cfg, graphClient, ingest.NewClient(cfg.IngestURL, logger), s, logger)
			} else {
				logger.Warn("INGEST_URL not set; uploads will be rejected.")
				server = api.NewServer(cfg, graphClient, nil, s, logger)
			}

			addr := fmt.Sprintf(":%d", cfg.HTTPPort)
			logger.Info("Listening.", "addr", addr)
			return http.ListenAndServe(addr, server)
		},
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
