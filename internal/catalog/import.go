package catalog

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"pharmatrack/internal"
	"pharmatrack/internal/logger"
	"pharmatrack/internal/monitoring"
)

const lastImportKey = "catalog.last_import"

type Store interface {
	UpsertCatalogProduct(ctx context.Context, rec internal.CatalogRecord) error
	SetMetadata(ctx context.Context, key, value string) error
}

type ImportSummary struct {
	SuccessCount  int
	ErrorCount    int
	Separator     rune
	HeaderSkipped bool
}

func (s ImportSummary) Message() string {
	return fmt.Sprintf("Import terminé : %d produits mis à jour/créés. %d erreurs.", s.SuccessCount, s.ErrorCount)
}

// ImportService applies parsed catalog rows as upserts keyed by code,
// one row at a time in file order.
type ImportService struct {
	store   Store
	log     *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

func NewImportService(store Store, log *zap.Logger, metrics *monitoring.Metrics) *ImportService {
	return &ImportService{store: store, log: logger.OrNop(log), metrics: metrics, now: time.Now}
}

func (s *ImportService) ImportFile(ctx context.Context, path string) (ImportSummary, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return ImportSummary{}, fmt.Errorf("read catalog file: %w", err)
	}
	return s.Import(ctx, string(blob))
}

// Import never fails for row level problems. Rejected rows and rows the
// store refuses are counted in ErrorCount.
func (s *ImportService) Import(ctx context.Context, raw string) (ImportSummary, error) {
	parsed := Parse(raw)
	summary := ImportSummary{
		ErrorCount:    parsed.ErrorCount,
		Separator:     parsed.Separator,
		HeaderSkipped: parsed.HeaderSkipped,
	}
	for _, rej := range parsed.Rejected {
		s.log.Debug("catalog row rejected", zap.Int("row", rej.Line), zap.String("code", rej.Code), zap.String("reason", rej.Reason))
	}

	for _, rec := range parsed.Records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		rec.LastUpdated = s.now()
		if err := s.store.UpsertCatalogProduct(ctx, rec); err != nil {
			summary.ErrorCount++
			s.log.Warn("catalog upsert failed", zap.String("code", rec.Code), zap.Error(err))
			continue
		}
		summary.SuccessCount++
	}

	s.metrics.RecordCatalogRows("ok", summary.SuccessCount)
	s.metrics.RecordCatalogRows("error", summary.ErrorCount)

	if err := s.store.SetMetadata(ctx, lastImportKey, s.now().UTC().Format(time.RFC3339)); err != nil {
		s.log.Warn("record catalog import time", zap.Error(err))
	}

	s.log.Info("catalog import done",
		zap.Int("success", summary.SuccessCount),
		zap.Int("errors", summary.ErrorCount),
		zap.String("separator", string(summary.Separator)),
		zap.Bool("headerSkipped", summary.HeaderSkipped),
	)
	return summary, nil
}
