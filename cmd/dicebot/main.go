package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"dicebot/pkg/app"
	"dicebot/pkg/db"

	"github.com/BurntSushi/toml"
	"github.com/go-pg/pg/v10"
	"github.com/joho/godotenv"
	"github.com/namsral/flag"
)

const appName = "dicebot"

var (
	fs           = flag.NewFlagSetWithEnvPrefix(os.Args[0], "DICEBOT", 0)
	flConfigPath = fs.String("config", "config.toml", "Path to config file")
	flVerbose    = fs.Bool("verbose", false, "enable debug output")
	flDev        = fs.Bool("dev", false, "enable dev mode (long polling)")
	cfg          app.Config
)

func main() {
	// .env is optional, real environment wins
	_ = godotenv.Load()

	flag.DefaultConfigFlagname = "config.flag"
	exitOnError(fs.Parse(os.Args[1:]))

	if _, err := toml.DecodeFile(*flConfigPath, &cfg); err != nil {
		exitOnError(fmt.Errorf("read config %s: %w", *flConfigPath, err))
	}
	if *flDev {
		cfg.Server.IsDevel = true
	}
	if token := os.Getenv("DICEBOT_BOT_TOKEN"); token != "" {
		cfg.Bot.Token = token
	}
	if secret := os.Getenv("DICEBOT_WEBHOOK_SECRET"); secret != "" {
		cfg.Server.WebhookSecret = secret
	}
	if password := os.Getenv("DICEBOT_API_PASSWORD"); password != "" {
		cfg.Server.APIPassword = password
	}

	dbc := pg.Connect(cfg.Database)
	dbo := db.New(dbc)
	v, err := dbo.Version()
	exitOnError(err)
	log.Println(v)

	application, err := app.New(appName, *flVerbose, cfg, dbo, dbc)
	exitOnError(err)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := application.Run(ctx); err != nil {
		log.Printf("run: %v", err)
	}

	application.Shutdown()
	if err := dbc.Close(); err != nil {
		log.Printf("closing db: %v", err)
	}
	log.Println("bye")
}

// exitOnError calls log.Fatal if err wasn't nil.
func exitOnError(err error) {
	if err != nil {
		log.SetOutput(os.Stderr)
		log.Fatal(err)
	}
}
