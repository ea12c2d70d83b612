// Package app wires configuration into the services shared by the CLI and
// the mail listener.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pharmatrack/internal/catalog"
	"pharmatrack/internal/config"
	"pharmatrack/internal/connectors"
	gmailconnector "pharmatrack/internal/connectors/gmail"
	imapconnector "pharmatrack/internal/connectors/imap"
	"pharmatrack/internal/discount"
	"pharmatrack/internal/expiry"
	"pharmatrack/internal/listener"
	"pharmatrack/internal/llm"
	"pharmatrack/internal/logger"
	"pharmatrack/internal/monitoring"
	"pharmatrack/internal/pipeline"
	"pharmatrack/internal/storage"
)

type App struct {
	Config     config.Config
	Log        *zap.Logger
	DB         *storage.DB
	Metrics    *monitoring.Metrics
	Normalizer *expiry.Normalizer

	Catalog    *catalog.ImportService
	Processing *pipeline.ProcessingService
	Manual     *pipeline.ManualEntryService
}

// New opens the database and builds every service that needs no mailbox.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	log = logger.OrNop(log)
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}

	metrics := monitoring.NewMetrics()
	completer := llm.NewClient(cfg, log.Named("llm"))
	extractor := pipeline.NewExtractor(completer, cfg, log.Named("extract"))

	return &App{
		Config:     cfg,
		Log:        log,
		DB:         db,
		Metrics:    metrics,
		Normalizer: NewNormalizer(cfg),
		Catalog:    catalog.NewImportService(db, log.Named("catalog"), metrics),
		Processing: pipeline.NewProcessingService(db, extractor, cfg.ExtractionTimeout(), cfg.DefaultZone, log.Named("process"), metrics),
		Manual:     pipeline.NewManualEntryService(db, cfg.DefaultZone, log.Named("manual")),
	}, nil
}

func (a *App) Close() error {
	_ = a.Log.Sync()
	return a.DB.Close()
}

// NewNormalizer applies the EXPIRY_* settings.
func NewNormalizer(cfg config.Config) *expiry.Normalizer {
	n := expiry.NewNormalizer()
	if strings.EqualFold(strings.TrimSpace(cfg.ExpiryMonthYearDay), string(expiry.EndOfMonth)) {
		n.MonthYearDay = expiry.EndOfMonth
	}
	if cfg.ExpiryCriticalDays > 0 {
		n.CriticalDays = cfg.ExpiryCriticalDays
	}
	if cfg.ExpiryWarningDays > 0 {
		n.WarningDays = cfg.ExpiryWarningDays
	}
	return n
}

// NewConnector picks the mailbox provider named by MAIL_PROVIDER.
func NewConnector(cfg config.Config) (connectors.MailConnector, error) {
	switch provider := strings.ToLower(strings.TrimSpace(cfg.MailProvider)); provider {
	case "", "imap":
		return imapconnector.NewConnector(cfg)
	case "gmail":
		return gmailconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported mail provider: %s", provider)
	}
}

// MailSync builds the ingestion coordinator. It fails when the mailbox
// provider is not configured.
func (a *App) MailSync() (*pipeline.MailSyncService, error) {
	conn, err := NewConnector(a.Config)
	if err != nil {
		return nil, err
	}
	return pipeline.NewMailSyncService(conn, a.DB, a.Processing, a.Config.MailSearchSubject, a.Config.MailFetchTimeout(), a.Log.Named("mail"), a.Metrics), nil
}

func (a *App) Listener() (*listener.Service, error) {
	syncer, err := a.MailSync()
	if err != nil {
		return nil, err
	}
	interval := time.Duration(a.Config.MailListenerIntervalSec) * time.Second
	return listener.NewService(syncer, interval, a.Config.MailListenerCron, a.Log.Named("listener"), a.Metrics), nil
}

// ExpiryReport joins every stored product with the catalog and classifies it.
func (a *App) ExpiryReport(ctx context.Context, f expiry.Filter) (expiry.Report, error) {
	products, err := a.DB.ListProductsWithInvoice(ctx)
	if err != nil {
		return expiry.Report{}, fmt.Errorf("list products: %w", err)
	}
	records, err := a.DB.ListCatalogProducts(ctx)
	if err != nil {
		return expiry.Report{}, fmt.Errorf("list catalog: %w", err)
	}
	enriched := catalog.BuildIndex(records).Enrich(products)
	return expiry.BuildReport(enriched, f, a.Normalizer), nil
}

func (a *App) DiscountReport(ctx context.Context) ([]discount.Line, discount.Summary, error) {
	products, err := a.DB.ListProductsWithInvoice(ctx)
	if err != nil {
		return nil, discount.Summary{}, fmt.Errorf("list products: %w", err)
	}
	lines, sum := discount.AuditAll(products)
	return lines, sum, nil
}
