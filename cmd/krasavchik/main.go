package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/AlexYaroshenko/krasavchik/internal/clock"
	"github.com/AlexYaroshenko/krasavchik/internal/config"
	"github.com/AlexYaroshenko/krasavchik/internal/game"
	"github.com/AlexYaroshenko/krasavchik/internal/lock"
	"github.com/AlexYaroshenko/krasavchik/internal/logger"
	"github.com/AlexYaroshenko/krasavchik/internal/members"
	"github.com/AlexYaroshenko/krasavchik/internal/store"
	"github.com/AlexYaroshenko/krasavchik/internal/telegram"
	"github.com/AlexYaroshenko/krasavchik/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New("krasavchik", cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Bot stopped with error")
	}
	log.Info().Msg("Shut down cleanly")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	st, err := store.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	var (
		locker lock.Locker
		roster members.Roster
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		locker = lock.NewRedis(rdb, cfg.Redis.Prefix, cfg.Game.LockTTL, log)
		roster = members.NewRedisRoster(rdb, cfg.Redis.Prefix)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Using redis for locks and rosters")
	} else {
		locker = lock.NewLocal()
		roster = members.NewMemoryRoster()
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return fmt.Errorf("connect telegram: %w", err)
	}
	api.Debug = cfg.Debug
	log.Info().Str("bot", api.Self.UserName).Msg("Authorized on Telegram")

	svc := game.New(game.Options{
		Store:          st,
		Clock:          clock.NewSystem(cfg.Location()),
		Locker:         locker,
		Selector:       members.NewRandomSelector(roster, telegram.NewPlatform(api), log),
		Admin:          cfg.Telegram.AdminUser,
		HourlyCooldown: cfg.Game.HourlyCooldown,
		SeasonLength:   cfg.Game.SeasonLength,
		Log:            log,
	})
	bot := telegram.New(api, svc, roster, telegram.Options{
		Name:         api.Self.UserName,
		Language:     cfg.Telegram.Language,
		BuildUpDelay: cfg.Game.BuildupDelay,
		Log:          log,
	})

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Telegram.WebhookURL != "" {
		secret := cfg.Telegram.WebhookSecret
		if secret == "" {
			// re-registered on every start, so a per-process secret is enough
			secret = uuid.NewString()
		}
		if err := bot.SetWebhook(cfg.Telegram.WebhookURL, secret); err != nil {
			return err
		}
		srv := web.NewServer(cfg.Telegram.Port, svc, bot, secret, cfg.Telegram.Language, log)
		g.Go(func() error {
			err := srv.Run(ctx)
			bot.Wait()
			return err
		})
	} else {
		srv := web.NewServer(cfg.Telegram.Port, svc, nil, "", cfg.Telegram.Language, log)
		g.Go(func() error { return srv.Run(ctx) })
		g.Go(func() error { return bot.Poll(ctx, api) })
	}
	return g.Wait()
}
