package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"duewatch/internal/config"
	"duewatch/internal/engine"
	"duewatch/internal/eventbus"
	"duewatch/internal/messenger"
	"duewatch/internal/runtime/supervisor"
	"duewatch/internal/storage"
	"duewatch/internal/trigger"
	logx "duewatch/pkg/logx"
)

func main() {
	var (
		cfgPath string
		once    string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.StringVar(&once, "once", "", "run one job and exit: gapfill|sweep|urgent|retention|documents")
	flag.Parse()

	if err := run(cfgPath, once); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(cfgPath, once string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("svc", "storage")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	mail, err := buildMessenger(cfg, log)
	if err != nil {
		return err
	}

	engCfg, err := engineConfig(cfg)
	if err != nil {
		return err
	}
	bus := eventbus.New()
	eng := engine.New(engCfg, store, mail, log.With(logx.String("svc", "engine")), bus)

	if once != "" {
		return runOnce(ctx, eng, once)
	}

	trig := trigger.New(trigger.Config{
		Enabled:     cfg.Trigger.Enabled,
		Timezone:    cfg.Trigger.Timezone,
		SweepEvery:  cfg.Trigger.SweepEvery,
		DailyAt:     cfg.Trigger.DailyAt,
		RetentionAt: cfg.Trigger.RetentionAt,
		DocumentsAt: cfg.Trigger.DocumentsAt,
	}, eng, log.With(logx.String("svc", "trigger")))
	if err := trig.Start(ctx); err != nil {
		return fmt.Errorf("start trigger: %w", err)
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(log.With(logx.String("svc", "supervisor"))))

	// Hot reload: logging level changes apply in place. Anything deeper
	// (storage path, cadences) needs a restart and is only logged.
	updates := mgr.Subscribe(1)
	defer mgr.Unsubscribe(updates)
	sup.GoRestart("config-watch", func(ctx context.Context) error {
		return mgr.Watch(ctx)
	})
	sup.Go0("config-apply", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case next := <-updates:
				logSvc.Apply(logx.Config{
					Level:   next.Logging.Level,
					Console: next.Logging.Console,
					File: logx.FileConfig{
						Enabled: next.Logging.File.Enabled,
						Path:    next.Logging.File.Path,
					},
				})
				log.Info("config reloaded", logx.String("level", next.Logging.Level))
			}
		}
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("duewatch started", logx.String("config", cfgPath))

	<-ctx.Done()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	trig.Stop(stopCtx)
	_ = sup.Stop(stopCtx)
	log.Info("duewatch stopped")
	return nil
}

func buildMessenger(cfg *config.Config, log logx.Logger) (messenger.Messenger, error) {
	multi := &messenger.Multi{}

	if cfg.Mail.Enabled {
		sendTimeout, err := config.ParseDurationOrDefault("mail.send_timeout", cfg.Mail.SendTimeout, 30*time.Second)
		if err != nil {
			return nil, err
		}
		smtp, err := messenger.NewSMTP(messenger.SMTPConfig{
			Host:        cfg.Mail.Host,
			Port:        cfg.Mail.Port,
			Username:    cfg.Mail.Username,
			Password:    cfg.Mail.Password,
			From:        cfg.Mail.From,
			SendTimeout: sendTimeout,
		}, log.With(logx.String("svc", "smtp")))
		if err != nil {
			return nil, fmt.Errorf("smtp: %w", err)
		}
		multi.Mail = smtp
	}
	if tg := cfg.Telegram; tg != nil && tg.Enabled {
		t, err := messenger.NewTelegram(messenger.TelegramConfig{Token: tg.Token},
			log.With(logx.String("svc", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		multi.Telegram = t
	}
	if multi.Mail == nil && multi.Telegram == nil {
		return nil, fmt.Errorf("no delivery channel enabled (mail or telegram)")
	}
	return multi, nil
}

func engineConfig(cfg *config.Config) (engine.Config, error) {
	batchPause, err := config.ParseDurationOrDefault("notify.batch_pause", cfg.Notify.BatchPause, time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	lookback, err := config.ParseDurationOrDefault("notify.lookback", cfg.Notify.Lookback, 7*24*time.Hour)
	if err != nil {
		return engine.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("mail.send_timeout", cfg.Mail.SendTimeout, 30*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		LeadTimes:     cfg.Notify.LeadTimes,
		MaxAttempts:   cfg.Notify.MaxAttempts,
		BatchSize:     cfg.Notify.BatchSize,
		BatchPause:    batchPause,
		SendTimeout:   sendTimeout,
		RetentionDays: cfg.Notify.RetentionDays,
		Lookback:      lookback,
	}, nil
}

func runOnce(ctx context.Context, eng *engine.Engine, job string) error {
	switch job {
	case "gapfill":
		rep, err := eng.RunGapFill(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("gap fill: created=%d cancelled=%d errors=%d\n", rep.Created, rep.Cancelled, rep.Errors)
	case "sweep":
		rep, err := eng.RunPendingSweep(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("sweep: sent=%d failed=%d\n", rep.Sent, rep.Failed)
	case "urgent":
		rep, err := eng.RunUrgentEscalation(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("urgent: escalated=%d failed=%d\n", rep.Escalated, rep.Failed)
	case "retention":
		rep, err := eng.RunRetention(ctx, 0)
		if err != nil {
			return err
		}
		fmt.Printf("retention: notifications=%d history=%d\n", rep.NotificationsRemoved, rep.HistoryRemoved)
	case "documents":
		rep, err := eng.RunDocumentSweep(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("documents: sent=%d failed=%d\n", rep.Sent, rep.Failed)
	default:
		return fmt.Errorf("unknown job %q", job)
	}
	return nil
}
