package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	natsgo "github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"livequiz-service/internal/app"
	"livequiz-service/internal/auth"
	"livequiz-service/internal/config"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/infra/memory"
	natsbus "livequiz-service/internal/infra/nats"
	pgstore "livequiz-service/internal/infra/postgres"
	redisstore "livequiz-service/internal/infra/redis"
	transport "livequiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port, seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "upsert the sample quizzes into Postgres on startup")
	return cmd
}

// backends is every adapter the service runs on. Nil fields fall back to memory.
type backends struct {
	redis *redis.Client
	pool  *pgxpool.Pool
	nats  *natsgo.Conn
}

func (b *backends) Close() {
	if b.nats != nil {
		b.nats.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

func runServer(ctx context.Context, configPath, portFlag string, seed bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel == "" {
		setupLogging(cfg.Log.Level, cfg.Log.JSON)
	} else {
		setupLogging(logLevel, cfg.Log.JSON)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	if seed && b.pool != nil {
		saver := pgstore.NewQuizLoader(b.pool)
		for _, quiz := range sampleQuizzes() {
			if err := saver.SaveQuiz(ctx, quiz); err != nil {
				return err
			}
		}
		log.Info().Int("quizzes", len(sampleQuizzes())).Msg("sample quizzes seeded")
	}

	service := newService(cfg, b)
	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("auth.jwt_secret is empty: nobody can launch a quiz")
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}
	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(service, issuer, cfg.Server.AllowedOrigins),
		ReadTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", finalPort).Msg("starting quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return service.RunClockSync(gctx, config.TTLDuration(cfg.Redis.ClockSync, 30*time.Second))
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func connect(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg); err != nil {
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		b.pool = pool
	}
	if cfg.Redis.Addr != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, err
		}
	}
	if cfg.NATS.URL != "" {
		nc, err := natsbus.Connect(natsbus.DefaultConfig(cfg.NATS.URL))
		if err != nil {
			b.Close()
			return nil, err
		}
		b.nats = nc
	}
	log.Info().
		Bool("postgres", b.pool != nil).
		Bool("redis", b.redis != nil).
		Bool("nats", b.nats != nil).
		Msg("backends connected")
	return b, nil
}

func newService(cfg config.Config, b *backends) *app.SessionService {
	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if b.pool != nil {
		loader = pgstore.NewQuizLoader(b.pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository = memory.NewQuizRepository(loader, quizTTL)
	var limiter app.RateLimiter = memory.NewRateLimiter(nil)
	var leaderboards app.LeaderboardRepository = memory.NewLeaderboardStore()

	instanceID := cfg.Server.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	opts := []app.Option{
		app.WithOptions(gameOptions(cfg)),
		app.WithInstanceID(instanceID),
	}

	if b.redis != nil {
		quizRepo = redisstore.NewQuizRepository(b.redis, loader, quizTTL)
		limiter = redisstore.NewRateLimiter(b.redis)
		leaderboards = redisstore.NewLeaderboardStore(b.redis)
		opts = append(opts,
			app.WithSnapshots(redisstore.NewSessionStore(b.redis, config.TTLDuration(cfg.Redis.TTL, 2*time.Hour))),
			app.WithTimeSource(redisstore.NewTimeSource(b.redis)),
		)
	}
	if b.pool != nil {
		leaderboards = pgstore.NewLeaderboardStore(b.pool)
	}
	if b.nats != nil {
		opts = append(opts, app.WithPublisher(natsbus.NewPublisher(b.nats, cfg.NATS.SubjectPrefix)))
	}

	return app.NewSessionService(memory.NewSessionStore(), quizRepo, leaderboards, limiter, opts...)
}

// gameOptions overlays the configured rules on the defaults.
func gameOptions(cfg config.Config) app.Options {
	opts := app.DefaultOptions()
	g := cfg.Game
	opts.Countdown = config.TTLDuration(g.Countdown, opts.Countdown)
	opts.QuestionDuration = config.TTLDuration(g.QuestionDuration, opts.QuestionDuration)
	if g.AutoAdvance != nil {
		opts.AutoAdvance = *g.AutoAdvance
	}
	if g.MaxReactions > 0 {
		opts.MaxReactions = g.MaxReactions
	}
	if g.ReactionsPerQuestion > 0 {
		opts.ReactionsPerQuestion = g.ReactionsPerQuestion
	}
	if g.MaxNameLength > 0 {
		opts.MaxNameLength = g.MaxNameLength
	}
	opts.JoinLimit = limit(cfg.Limits.Join, opts.JoinLimit)
	opts.AnswerLimit = limit(cfg.Limits.Answer, opts.AnswerLimit)
	opts.ReactionLimit = limit(cfg.Limits.Reaction, opts.ReactionLimit)
	return opts
}

func limit(l config.Limit, fallback app.Limit) app.Limit {
	if l.Max <= 0 {
		return fallback
	}
	return app.Limit{Max: l.Max, Window: config.TTLDuration(l.Window, fallback.Window)}
}

// sampleQuizzes provides a minimal set of quiz data; the Postgres loader replaces it in production.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectIndex: 1},
				{Text: "Which planet is known as the Red Planet?", Options: []string{"Venus", "Mars", "Jupiter", "Saturn"}, CorrectIndex: 1},
				{Text: "How many sides does a hexagon have?", Options: []string{"5", "6", "8"}, CorrectIndex: 1},
			},
		},
	}
}
