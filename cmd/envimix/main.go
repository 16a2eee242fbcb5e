package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/tmxbot/envimix/internal/app"
	"github.com/tmxbot/envimix/internal/auth"
	"github.com/tmxbot/envimix/internal/logger"
	"github.com/tmxbot/envimix/internal/services"
	"github.com/tmxbot/envimix/pkg/chat"
	"github.com/tmxbot/envimix/pkg/nadeo"
)

var (
	version = "dev"
)

func main() {
	port := flag.Int("port", 8082, "HTTP server port")
	dbPath := flag.String("db", "envimix.db", "SQLite database path")
	adminToken := flag.String("admin-token", "", "Admin API bearer token (auto-generated if not set)")
	logLevel := flag.String("loglevel", "info", "Log level (debug, info, warn, error)")
	superUser := flag.String("super-user", "", "Chat account with unrestricted claim-engine rights")
	nadeoURL := flag.String("nadeo-url", "https://live-services.trackmania.nadeo.live", "Race server live API base URL")
	nadeoToken := flag.String("nadeo-token", "", "Race server access token")
	chatURL := flag.String("chat-url", "https://discord.com/api/v10", "Chat platform API base URL")
	chatToken := flag.String("chat-token", "", "Chat platform bot token")
	statusChannel := flag.String("status-channel", "", "Channel id for status grids")
	newsChannel := flag.String("news-channel", "", "Channel id for campaign announcements")
	completionChannel := flag.String("completion-channel", "", "Channel id for completed-car dumps")
	baseURL := flag.String("base-url", "", "Public campaign page base URL for announcements")
	showVersion := flag.Bool("version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Envimix - campaign variant and map-claim engine

Usage:
  envimix [options]

Options:
  -port int               HTTP server port (default 8082)
  -db string              SQLite database path (default "envimix.db")
  -admin-token str        Admin API bearer token (auto-generated if not set)
  -loglevel str           Log level: debug, info, warn, error (default "info")
  -super-user str         Chat account with unrestricted claim-engine rights
  -nadeo-url str          Race server live API base URL
  -nadeo-token str        Race server access token
  -chat-url str           Chat platform API base URL
  -chat-token str         Chat platform bot token
  -status-channel str     Channel id for status grids
  -news-channel str       Channel id for campaign announcements
  -completion-channel str Channel id for completed-car dumps
  -base-url str           Public campaign page base URL
  -version                Show version and exit
  -help                   Show this help message

Examples:
  envimix                                 # Run on port 8082 with envimix.db
  envimix -port 8080 -db /data/mix.db     # Custom port and database path
  envimix -admin-token secret123          # Use a specific admin token

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("envimix %s\n", version)
		os.Exit(0)
	}

	token := *adminToken
	if token == "" {
		token = auth.GenerateToken()
	}
	adminAuth := auth.New(token)

	appLog := logger.NewWithLevel(logger.ParseLevel(*logLevel))

	upstream := nadeo.NewHTTPClient(*nadeoURL, *nadeoToken, appLog)
	chatClient := chat.NewHTTPClient(*chatURL, *chatToken, appLog)

	cfg := services.DefaultConfig()
	cfg.SuperUser = *superUser
	cfg.StatusChannelID = *statusChannel
	cfg.NewsChannelID = *newsChannel
	cfg.CompletionChannelID = *completionChannel
	cfg.CampaignBaseURL = *baseURL

	a, err := app.New(appLog, *dbPath, upstream, chatClient, cfg, adminAuth)
	if err != nil {
		log.Fatal("Failed to initialize application:", err)
	}
	defer a.Close()

	addr := fmt.Sprintf(":%d", *port)
	appLog.Info("Admin token", "token", token)

	if err := a.Run(addr); err != nil {
		log.Fatal(err)
	}
}
