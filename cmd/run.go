package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/example/tee-scheduler/internal/auth"
	"github.com/example/tee-scheduler/internal/config"
	"github.com/example/tee-scheduler/internal/domain/teetime"
	"github.com/example/tee-scheduler/internal/engine"
	"github.com/example/tee-scheduler/internal/infrastructure/crypto"
	"github.com/example/tee-scheduler/internal/infrastructure/foreup"
	"github.com/example/tee-scheduler/internal/infrastructure/golfnow"
	"github.com/example/tee-scheduler/internal/infrastructure/postgres"
	"github.com/example/tee-scheduler/internal/logging"
	"github.com/example/tee-scheduler/internal/notify"
	"github.com/example/tee-scheduler/internal/queue"
	"github.com/example/tee-scheduler/internal/web"
)

func newRunCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the booking engine and its control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logging.Setup(cfg.Env, cfg.LogLevel)

			query, err := cfg.Query()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			q := queue.New(queue.Options{
				Addr:      cfg.Redis.Addr,
				Password:  cfg.Redis.Password,
				DB:        cfg.Redis.DB,
				Namespace: cfg.Redis.Namespace,
				LeaseTTL:  cfg.LeaseTTL(),
			})
			defer q.Close()
			if err := q.Ping(ctx); err != nil {
				return errors.Wrap(err, "redis ping")
			}

			var store *postgres.Store
			if cfg.Postgres.URL != "" {
				key, err := cfg.CredKey()
				if err != nil {
					return err
				}
				sealer, err := crypto.NewSealer(key)
				if err != nil {
					return err
				}
				pool, err := postgres.Connect(ctx, cfg.Postgres.URL)
				if err != nil {
					return err
				}
				defer pool.Close()
				if migrateUp {
					if err := postgres.Migrate(ctx, pool); err != nil {
						return err
					}
				}
				store = postgres.NewStore(pool, sealer)
			}

			provider, err := buildProvider(ctx, cfg, store)
			if err != nil {
				return err
			}

			fanout := buildNotifier(cfg, log)

			var recorder engine.Recorder
			if store != nil {
				recorder = store
			}

			eng := engine.New(engine.Config{
				Interval:    cfg.Interval(),
				MaxAttempts: cfg.Job.MaxAttempts,
				BackoffBase: cfg.BackoffBase(),
				Players:     cfg.PlayerNames(),
			}, provider, q, fanout, recorder, query, log)

			if err := eng.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer stopCancel()
				if err := eng.Stop(stopCtx); err != nil {
					log.Error().Err(err).Msg("engine stop")
				}
			}()

			hashKey, blockKey, err := cfg.SessionKeys()
			if err != nil {
				return err
			}
			sessions := auth.NewSessions(hashKey, blockKey, cfg.Operator.PasswordHash)

			var history web.History
			if store != nil {
				history = store
			}
			srv := web.NewServer(eng, history, sessions, log)
			return web.Start(ctx, cfg.HTTP.Addr, srv.Router(), log)
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	return cmd
}

// buildProvider picks the platform client. Credentials stored in the
// database win over environment ones so rotations do not need a redeploy.
func buildProvider(ctx context.Context, cfg config.Config, store *postgres.Store) (teetime.Provider, error) {
	username, password, err := resolveCredentials(ctx, cfg, store)
	if err != nil {
		return nil, err
	}

	switch cfg.Provider.Platform {
	case string(teetime.PlatformForeUp):
		return foreup.New(foreup.Config{
			BaseURL:        cfg.Provider.ForeUp.BaseURL,
			Username:       username,
			Password:       password,
			BookingClassID: cfg.Provider.ForeUp.BookingClassID,
			ScheduleID:     cfg.Provider.ForeUp.ScheduleID,
			CourseID:       cfg.Provider.ForeUp.CourseID,
		}), nil
	case string(teetime.PlatformGolfNow):
		return golfnow.New(golfnow.Config{
			BaseURL:       cfg.Provider.GolfNow.BaseURL,
			Email:         username,
			Password:      password,
			TwoFactorWait: cfg.TwoFactorWait(),
			Headless:      cfg.Provider.GolfNow.Headless,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider platform %q", cfg.Provider.Platform)
	}
}

func resolveCredentials(ctx context.Context, cfg config.Config, store *postgres.Store) (string, string, error) {
	username := cfg.Provider.ForeUp.Username
	password := cfg.Provider.ForeUp.Password
	if cfg.Provider.Platform == string(teetime.PlatformGolfNow) {
		username = cfg.Provider.GolfNow.Email
		password = cfg.Provider.GolfNow.Password
	}

	if store != nil {
		creds, err := store.LoadCredentials(ctx, cfg.Provider.Platform)
		switch {
		case err == nil:
			return creds.Username, creds.Password, nil
		case errors.Is(err, postgres.ErrNotFound):
		default:
			return "", "", err
		}
	}

	if username == "" || password == "" {
		return "", "", fmt.Errorf("no credentials for platform %q: set env vars or run teesched creds set", cfg.Provider.Platform)
	}
	return username, password, nil
}

func buildNotifier(cfg config.Config, log zerolog.Logger) *notify.Fanout {
	var channels []notify.Channel
	if cfg.Notify.SMTP.Host != "" {
		ch, err := notify.NewEmailChannel(notify.EmailConfig{
			Host:     cfg.Notify.SMTP.Host,
			Port:     cfg.Notify.SMTP.Port,
			Username: cfg.Notify.SMTP.Username,
			Password: cfg.Notify.SMTP.Password,
			From:     cfg.Notify.SMTP.From,
			To:       cfg.Notify.SMTP.To,
		})
		if err != nil {
			log.Error().Err(err).Msg("email channel disabled")
		} else {
			channels = append(channels, ch)
		}
	}
	if cfg.Notify.Pushover.Token != "" {
		channels = append(channels, notify.NewPushoverChannel(cfg.Notify.Pushover.Token, cfg.Notify.Pushover.UserKey))
	}
	if len(channels) == 0 {
		log.Warn().Msg("no notification channels configured")
	}
	return notify.NewFanout(channels...)
}
