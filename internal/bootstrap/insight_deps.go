// Package bootstrap wires configuration, adapters and services into a
// runnable server.
package bootstrap

import (
	"context"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"insight_server/adapter/out/cache"
	"insight_server/adapter/out/graph"
	"insight_server/adapter/out/mongodb"
	"insight_server/adapter/out/persistence"
	"insight_server/adapter/out/provider"
	"insight_server/config"
	"insight_server/core/agent/llm"
	"insight_server/core/port/in"
	"insight_server/core/port/out"
	"insight_server/core/service/linguistic"
	"insight_server/core/service/pipeline"
	"insight_server/core/service/scoring"
	"insight_server/infra/database"
)

type Dependencies struct {
	Config *config.Config
	Log    zerolog.Logger

	DB      *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client
	Neo4j   neo4j.DriverWithContext

	// Outbound adapters
	EmailCache   *cache.RedisEmailCache
	MailSource   *provider.GmailSource
	Parser       *provider.HeaderMetadataParser
	TokenRepo    *persistence.TokenAdapter
	SettingsRepo *persistence.SettingsAdapter
	SenderGraph  out.SenderGraph
	UsageStore   out.UsageStore

	// Analysis components
	LLMClient  *llm.Client
	Linguistic *linguistic.Analyzer
	Semantic   *llm.SemanticAnalyzer
	Scorer     *scoring.Scorer

	// Inbound service
	AnalysisService in.AnalysisService
}

// NewDependencies builds the full dependency graph. Postgres and Redis are
// required; Neo4j and MongoDB degrade to disabled side effects when not
// configured or unreachable.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Logger()
	if cfg.IsProduction() {
		log = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	deps := &Dependencies{Config: cfg, Log: log}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Postgres (sqlx via pgx stdlib driver)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Redis
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { redisClient.Close() })

	// MongoDB (optional, usage reports)
	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.NewClient(cfg.MongoDBURL)
		if err != nil {
			log.Warn().Err(err).Msg("MongoDB unavailable, usage reports disabled")
		} else {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				mongoClient.Disconnect(ctx)
			})

			usageStore := mongodb.NewUsageStoreAdapter(mongoClient.Database(cfg.MongoDBName))
			if err := usageStore.EnsureIndexes(context.Background()); err != nil {
				log.Warn().Err(err).Msg("failed to ensure MongoDB indexes")
			}
			deps.UsageStore = usageStore
		}
	}

	// Neo4j (optional, sender graph)
	if cfg.Neo4jURL != "" {
		driver, err := graph.NewDriver(cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword)
		if err != nil {
			log.Warn().Err(err).Msg("Neo4j unavailable, sender graph disabled")
		} else {
			deps.Neo4j = driver
			cleanups = append(cleanups, func() { driver.Close(context.Background()) })

			graphAdapter := graph.NewSenderGraphAdapter(driver, cfg.Neo4jDatabase)
			if err := graphAdapter.EnsureIndexes(context.Background()); err != nil {
				log.Warn().Err(err).Msg("failed to ensure Neo4j constraints")
			}
			deps.SenderGraph = graphAdapter
		}
	}

	// Outbound adapters
	deps.EmailCache = cache.NewRedisEmailCache(redisClient, log)
	deps.TokenRepo = persistence.NewTokenAdapter(db, log)
	deps.SettingsRepo = persistence.NewSettingsAdapter(db, log)
	deps.Parser = provider.NewHeaderMetadataParser(log)
	deps.MailSource = provider.NewGmailSource(&provider.GmailConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}, deps.TokenRepo, log)

	// Analysis components
	deps.LLMClient = llm.NewClient(llm.ClientConfig{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
	})
	deps.Semantic = llm.NewSemanticAnalyzer(deps.LLMClient, llm.SemanticConfig{}, log)

	linguisticCfg := linguistic.DefaultConfig()
	linguisticCfg.Workers = cfg.LinguisticWorkers
	deps.Linguistic = linguistic.NewAnalyzer(linguisticCfg, log)

	deps.Scorer = scoring.NewScorer(log)

	// Pipeline
	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Warn().Str("timezone", cfg.Timezone).Msg("unknown timezone, falling back to UTC")
		tz = time.UTC
	}
	pipelineCfg := pipeline.DefaultConfig()
	pipelineCfg.Timezone = tz
	pipelineCfg.ParseWorkers = cfg.ParseWorkers
	pipelineCfg.VIPLimit = cfg.VIPLimit

	deps.AnalysisService = pipeline.NewService(pipeline.Deps{
		Cache:      deps.EmailCache,
		Source:     deps.MailSource,
		Parser:     deps.Parser,
		Linguistic: deps.Linguistic,
		Semantic:   deps.Semantic,
		Scorer:     deps.Scorer,
		Settings:   deps.SettingsRepo,
		Graph:      deps.SenderGraph,
		Usage:      deps.UsageStore,
	}, pipelineCfg, log)

	log.Info().
		Bool("mongo", deps.UsageStore != nil).
		Bool("neo4j", deps.SenderGraph != nil).
		Msg("dependencies initialized")

	return deps, cleanup, nil
}
