package dicebot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dicebot/pkg/casino"
	"dicebot/pkg/db"
	"dicebot/pkg/embedlog"

	"github.com/go-pg/pg/v10"
	"github.com/go-telegram/bot"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule    = "*/1 * * * *"
	EvictionSchedule   = "*/5 * * * *"
	DailyStatsSchedule = "0 9 * * *"
)

type CronService struct {
	cron *Cron
}

func NewCronService(dbo db.DB, logger embedlog.Logger, b *bot.Bot, svc *casino.Service, settings *casino.CachedSettings, admins []int64) *CronService {
	return &CronService{
		cron: NewCron(dbo, logger, b, svc, settings, admins),
	}
}

func (cs *CronService) RegisterTasks() {
	cs.cron.RegisterTask(
		"mines.evict",
		EvictionSchedule,
		cs.cron.EvictMinesTask,
	)
	cs.cron.RegisterTask(
		"profit.gauge",
		DefaultSchedule,
		cs.cron.ProfitGaugeTask,
	)
	cs.cron.RegisterTask(
		"settings.refresh",
		DefaultSchedule,
		cs.cron.RefreshSettingsTask,
	)
	cs.cron.RegisterTask(
		"stats.daily",
		DailyStatsSchedule,
		cs.cron.DailyStatsTask,
	)
}

func (cs *CronService) Start() {
	cs.cron.Start()
}

// Stop waits for running tasks.
func (cs *CronService) Stop() {
	<-cs.cron.scheduler.Stop().Done()
}

type Cron struct {
	embedlog.Logger
	scheduler *cron.Cron
	b         *bot.Bot
	svc       *casino.Service
	settings  *casino.CachedSettings
	admins    []int64

	db db.DB
	cr db.CommonRepo
}

func NewCron(dbo db.DB, logger embedlog.Logger, b *bot.Bot, svc *casino.Service, settings *casino.CachedSettings, admins []int64) *Cron {
	return &Cron{
		scheduler: cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		Logger:    logger,
		b:         b,
		svc:       svc,
		settings:  settings,
		admins:    admins,
		db:        dbo,
		cr:        db.NewCommonRepo(dbo),
	}
}

func (c *Cron) RegisterTask(
	name, schedule string,
	taskFunc func(ctx context.Context) error,
) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	id, err := c.scheduler.AddFunc(schedule, func() {
		t0 := time.Now()
		c.Debugf("task=%s started", name)
		if err := taskFunc(context.Background()); err != nil {
			c.Errorf("task=%s failed: %v", name, err)
		} else {
			c.Debugf("task=%s completed in %v", name, time.Since(t0))
		}
	})
	if err != nil {
		c.Errorf("failed to register task %q: %v", name, err)
		return
	}
	c.Printf("task=%s registered, next run at %v", name, c.scheduler.Entry(id).Next)
}

func (c *Cron) Start() {
	c.scheduler.Start()
}

func (c *Cron) EvictMinesTask(ctx context.Context) error {
	_, err := c.svc.EvictStaleMines(ctx)
	return err
}

func (c *Cron) ProfitGaugeTask(ctx context.Context) error {
	_, err := c.svc.RefreshProfit(ctx)
	return err
}

// RefreshSettingsTask picks up settings changed directly in the database.
func (c *Cron) RefreshSettingsTask(ctx context.Context) error {
	c.settings.Invalidate()
	_, err := c.settings.Settings(ctx)
	return err
}

// DailyStatsTask sends last day totals to admins. Only one instance sends
// the report, the others skip on the advisory lock.
func (c *Cron) DailyStatsTask(ctx context.Context) error {
	if len(c.admins) == 0 {
		return nil
	}

	var stats db.BetStats
	err := c.db.RunInLock(ctx, "stats.daily", func(tx *pg.Tx) error {
		var err error
		stats, err = c.cr.WithTransaction(tx).BetStatsSince(ctx, time.Now().Add(-24*time.Hour))
		return err
	})
	if errors.Is(err, db.ErrLocked) {
		c.Printf("task=stats.daily skipped: %v", err)
		return nil
	} else if err != nil {
		return err
	}

	text := dailyStatsText(stats)
	for _, id := range c.admins {
		if _, err := c.b.SendMessage(ctx, &bot.SendMessageParams{ChatID: id, Text: text}); err != nil {
			c.Errorf("send daily stats admin=%d err=%q", id, err)
		}
	}
	return nil
}

func dailyStatsText(s db.BetStats) string {
	return fmt.Sprintf("За сутки: ставок %d, игроков %d\nОборот: %s\nПрофит казино: %s",
		s.Bets, s.Players, money(s.Staked), money(s.Profit))
}
