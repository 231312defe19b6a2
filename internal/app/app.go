// Package app assembles the services, event sinks and HTTP router from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/audit"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/auth"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/calculation"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/cloud"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/config"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/database"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/events"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/events/websocket"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/ledger"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/marketplace"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/metrics"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/reports"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/stats"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/submissions"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/verification"
	"carbon-scribe/energy-credits/energy-credits-backend/pkg/storage"
)

// CertificateIssuer is printed on retirement certificates.
const CertificateIssuer = "CarbonScribe Energy Credits Registry"

// Migrators lists every table owner in dependency order.
var Migrators = []database.Migrator{
	submissions.Migrate,
	ledger.Migrate,
	marketplace.Migrate,
	events.Migrate,
}

// App holds the wired services. Build it with New and release it with Close.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *gorm.DB

	Dispatcher *events.Dispatcher
	Hub        *websocket.Hub
	Auth       *auth.Authenticator

	Submissions  *submissions.Service
	Verification *verification.Service
	Ledger       *ledger.Service
	Marketplace  *marketplace.Service
	Stats        *stats.Service
	Auditor      *audit.Auditor
	Reports      *reports.Service
}

// New opens and migrates the database, then wires everything on top of it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db, Migrators...); err != nil {
		_ = database.Close(db)
		return nil, err
	}

	a, err := NewWithDB(ctx, cfg, db, logger)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return a, nil
}

// NewWithDB wires services on an already migrated database. The event
// dispatcher is started; Close drains it.
func NewWithDB(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *zap.Logger) (*App, error) {
	metrics.Register()

	a := &App{
		Config: cfg,
		Logger: logger,
		DB:     db,
		Auth:   auth.NewAuthenticator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer),
	}

	clients, err := newCloudClients(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sinks, err := a.buildSinks(cfg, clients)
	if err != nil {
		return nil, err
	}
	a.Dispatcher = events.NewDispatcher(logger, cfg.Anchoring.BufferSize, sinks...)
	a.Dispatcher.Start()

	policy := calculation.NewPolicy(cfg.Conversion)
	subsRepo := submissions.NewRepository(db)
	ledgerRepo := ledger.NewRepository(db)

	a.Ledger = ledger.NewService(db, ledgerRepo, subsRepo, policy, a.Dispatcher, logger)
	a.Submissions = submissions.NewService(subsRepo, policy, a.Ledger, logger)
	a.Verification = verification.NewService(subsRepo, a.Dispatcher, logger)
	a.Marketplace = marketplace.NewService(db, marketplace.NewRepository(db), ledgerRepo, policy, a.Dispatcher, logger)
	a.Stats = stats.NewService(db, logger)
	a.Auditor = audit.NewAuditor(db, a.Ledger, ledgerRepo, logger)

	a.Reports = reports.NewService(a.Marketplace, a.Ledger, a.Ledger, policy, clients.s3,
		reports.ArchiveConfig{Bucket: cfg.Exports.Bucket, Prefix: cfg.Exports.Prefix},
		CertificateIssuer, logger)

	logger.Info("Services wired",
		zap.Int("event_sinks", len(sinks)),
		zap.Bool("export_archive", clients.s3 != nil))
	return a, nil
}

// Close drains pending events and releases the database.
func (a *App) Close() {
	a.Dispatcher.Close()
	if a.Hub != nil {
		a.Hub.Close()
	}
	if err := database.Close(a.DB); err != nil {
		a.Logger.Warn("Failed to close database", zap.Error(err))
	}
}

type cloudClients struct {
	sns events.SNSPublishAPI
	s3  storage.S3Client
}

// newCloudClients loads AWS configuration only when a feature needs it.
func newCloudClients(ctx context.Context, cfg *config.Config) (cloudClients, error) {
	var clients cloudClients
	if cfg.Anchoring.SNSTopicARN == "" && cfg.Exports.Bucket == "" {
		return clients, nil
	}

	awsCfg, err := cloud.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return clients, err
	}
	if cfg.Anchoring.SNSTopicARN != "" {
		clients.sns = cloud.NewSNSClient(awsCfg, cfg.AWS.Endpoint)
	}
	if cfg.Exports.Bucket != "" {
		clients.s3 = storage.NewS3ClientFromConfig(awsCfg, cfg.AWS.Endpoint)
	}
	return clients, nil
}

func (a *App) buildSinks(cfg *config.Config, clients cloudClients) ([]events.Sink, error) {
	sinks := []events.Sink{
		events.NewLogSink(a.Logger),
		events.NewStoreSink(a.DB),
	}

	if clients.sns != nil {
		sinks = append(sinks, events.NewSNSSink(clients.sns, cfg.Anchoring.SNSTopicARN))
	}

	if len(cfg.Anchoring.ElasticURLs) > 0 {
		es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: cfg.Anchoring.ElasticURLs})
		if err != nil {
			return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
		}
		sinks = append(sinks, events.NewElasticSink(es, cfg.Anchoring.ElasticIndex))
	}

	if cfg.Anchoring.WebsocketFeeds {
		a.Hub = websocket.NewHub(a.Logger)
		sinks = append(sinks, a.Hub)
	}
	return sinks, nil
}
