package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"alarm-clock/internal/bot"
	"alarm-clock/internal/config"
	"alarm-clock/internal/export"
	"alarm-clock/internal/service"
	"alarm-clock/pkg/logger"
)

func configUsage() string {
	return config.Usage()
}

func load(c *cli.Context) (config.Config, *logger.Logger, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return cfg, nil, fmt.Errorf("config: %w", err)
	}
	return cfg, logger.New(cfg.Log.Level, cfg.App.Env), nil
}

func runDaemon(c *cli.Context) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}
	if err := cfg.RequireTelegram(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	telegramBot, err := bot.New(cfg.Telegram.Token, cfg.Telegram.ChatID, loc, log)
	if err != nil {
		return fmt.Errorf("bot: %w", err)
	}

	eng, err := buildEngine(ctx, cfg, log, telegramBot)
	if err != nil {
		return err
	}
	defer eng.close()

	telegramBot.Bind(bot.Services{
		Alarms:  eng.alarms,
		Timers:  eng.timers,
		Restore: eng.restore,
		Bus:     eng.bus,
	})

	if err := eng.schedulePeriodic(ctx); err != nil {
		return err
	}
	eng.host.Start()
	defer eng.host.Stop()

	report, err := eng.restore.Restore(ctx)
	if err != nil {
		log.Error("initial restore", logger.Err(err))
	}
	log.Info("alarms restored", slog.Int("scheduled", report.Scheduled), slog.Int("failed", report.Failed))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.dispatcher.Run(gctx) })
	g.Go(func() error { return telegramBot.Start(gctx) })

	log.Info("alarm clock started")
	err = g.Wait()
	eng.supervisor.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func restoreOnce(c *cli.Context) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}

	eng, err := buildEngine(context.Background(), cfg, log, service.NopNotifier{})
	if err != nil {
		return err
	}
	defer eng.close()

	report, err := eng.restore.Restore(context.Background())
	fmt.Printf("scheduled: %d, failed: %d, pruned: %d\n", report.Scheduled, report.Failed, report.Pruned)
	printPending(os.Stdout, eng.host.Pending(), eng.loc)
	return err
}

func printPending(w io.Writer, pending map[service.TriggerKey]time.Time, loc *time.Location) {
	keys := make([]service.TriggerKey, 0, len(pending))
	for key := range pending {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return pending[keys[i]].Before(pending[keys[j]]) })
	for _, key := range keys {
		fmt.Fprintf(w, "%-16s %s\n", key.String(), pending[key].In(loc).Format("Mon 2006-01-02 15:04"))
	}
}

func exportAlarms(c *cli.Context) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}

	eng, err := buildEngine(context.Background(), cfg, log, service.NopNotifier{})
	if err != nil {
		return err
	}
	defer eng.close()

	alarms, err := eng.alarms.ListAlarms(context.Background())
	if err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if path := c.String("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer f.Close()
		out = f
	}
	return export.Write(out, alarms, time.Now().In(eng.loc))
}
