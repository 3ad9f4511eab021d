package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"dicebot/pkg/casino"
	"dicebot/pkg/db"
	"dicebot/pkg/dicebot"
	"dicebot/pkg/embedlog"
	"dicebot/pkg/sessions"

	"github.com/go-pg/pg/v10"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	webhookPath     = "/isl/"
	shutdownTimeout = 10 * time.Second

	SessionsMemory = "memory"
	SessionsRedis  = "redis"
)

type Config struct {
	Database *pg.Options
	Server   struct {
		Host    string
		Port    int
		IsDevel bool
		// WebhookSecret is sent by Telegram with every webhook update.
		WebhookSecret string
		// APIUser and APIPassword guard /metrics and /api, both are
		// disabled while APIPassword is empty.
		APIUser     string
		APIPassword string
	}
	Bot      dicebot.Config
	Casino   casino.Config
	Sessions struct {
		Backend string
		Prefix  string
		TTL     time.Duration
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
}

type App struct {
	embedlog.Logger
	appName string
	cfg     Config
	db      db.DB
	dbc     *pg.DB
	rdb     *redis.Client
	b       *bot.Bot
	srv     *http.Server
	isDevel bool

	repo     *db.CasinoRepo
	settings *casino.CachedSettings
	svc      *casino.Service
	bs       *dicebot.BotService
	cron     *dicebot.CronService
}

func New(appName string, verbose bool, cfg Config, dbo db.DB, dbc *pg.DB) (*App, error) {
	a := &App{
		appName: appName,
		cfg:     cfg,
		db:      dbo,
		dbc:     dbc,
		isDevel: cfg.Server.IsDevel,
		repo:    db.NewCasinoRepo(dbo),
	}

	a.SetStdLoggers(verbose)

	opts := []bot.Option{bot.WithDefaultHandler(a.defaultHandler)}
	if cfg.Server.WebhookSecret != "" {
		opts = append(opts, bot.WithWebhookSecretToken(cfg.Server.WebhookSecret))
	} else if !cfg.Server.IsDevel {
		a.Printf("WARN Server.WebhookSecret is empty, webhook updates are not verified")
	}
	b, err := bot.New(cfg.Bot.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("init bot: %w", err)
	}
	a.b = b

	sessionRepo, err := a.sessionRepository()
	if err != nil {
		return nil, err
	}

	registry, err := casino.NewRegistry(casino.DefaultRules()...)
	if err != nil {
		return nil, err
	}

	a.settings = casino.NewCachedSettings(a.repo, cfg.Casino.SettingsTTL)
	a.svc = casino.NewService(a.Logger, cfg.Casino, registry, casino.DefaultOverrides(), casino.Deps{
		Settings: a.settings,
		Ledger:   a.repo,
		Settler:  a.repo,
		Profit:   a.repo,
		Notifier: dicebot.NewNotifier(b, cfg.Bot.ResultDelay),
		Sessions: sessionRepo,
	})
	a.bs = dicebot.NewBotService(a.Logger, cfg.Bot, dbo, a.svc, a.settings)
	a.cron = dicebot.NewCronService(dbo, a.Logger, b, a.svc, a.settings, cfg.Bot.AdminIDs)

	casino.RegisterMetrics(prometheus.DefaultRegisterer)

	return a, nil
}

func (a *App) sessionRepository() (casino.SessionRepository, error) {
	switch a.cfg.Sessions.Backend {
	case "", SessionsMemory:
		return casino.NewMemorySessions(), nil
	case SessionsRedis:
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		prefix := a.cfg.Sessions.Prefix
		if prefix == "" {
			prefix = a.appName + ":mines:"
		}
		return sessions.NewRedis(a.rdb, prefix, a.cfg.Sessions.TTL), nil
	}
	return nil, fmt.Errorf("unknown sessions backend %q", a.cfg.Sessions.Backend)
}

// defaultHandler is set before BotService exists.
func (a *App) defaultHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if a.bs != nil {
		a.bs.DefaultHandler(ctx, b, update)
	}
}

// Run is a function that runs application until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.rdb != nil {
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	a.bs.RegisterBotHandlers(a.b)
	a.cron.RegisterTasks()
	a.cron.Start()

	g, ctx := errgroup.WithContext(ctx)

	if a.isDevel {
		// for local usage
		if _, err := a.b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
			a.Errorf("delete webhook err=%q", err)
		}
		g.Go(func() error {
			a.b.Start(ctx)
			return nil
		})
	} else {
		// for server usage
		_, err := a.b.SetWebhook(ctx, &bot.SetWebhookParams{
			URL:         fmt.Sprintf("https://%s%s", a.cfg.Server.Host, webhookPath),
			SecretToken: a.cfg.Server.WebhookSecret,
		})
		if err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
		g.Go(func() error {
			a.b.StartWebhook(ctx)
			return nil
		})
	}

	a.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		a.Printf("http server listening on %s", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.srv.Shutdown(sctx)
	})

	return g.Wait()
}

// Shutdown is a function that gracefully stops cron and redis after Run returned.
func (a *App) Shutdown() {
	a.cron.Stop()

	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.Errorf("closing redis err=%q", err)
		}
	}
}
