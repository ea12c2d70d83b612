package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pharmatrack/internal"
	"pharmatrack/internal/logger"
	"pharmatrack/internal/monitoring"
	"pharmatrack/internal/util"
)

type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv internal.Invoice) error
}

// ProductExtractor turns document text into line items.
type ProductExtractor interface {
	Extract(ctx context.Context, text string) ([]internal.ExtractedProduct, error)
}

type Document struct {
	Filename    string
	ContentType string
	Content     []byte
	Source      internal.InvoiceSource
}

type Options struct {
	Zone     string
	Operator *string
}

type ProcessOutcome struct {
	Status     internal.AttachmentStatus
	InvoiceID  string
	Filename   string
	Products   int
	TextLength int
}

type ProcessingService struct {
	store     InvoiceStore
	extractor ProductExtractor
	timeout   time.Duration
	zone      string
	log       *zap.Logger
	metrics   *monitoring.Metrics
	now       func() time.Time
}

func NewProcessingService(store InvoiceStore, extractor ProductExtractor, timeout time.Duration, defaultZone string, log *zap.Logger, metrics *monitoring.Metrics) *ProcessingService {
	if strings.TrimSpace(defaultZone) == "" {
		defaultZone = internal.DefaultZone
	}
	return &ProcessingService{
		store:     store,
		extractor: extractor,
		timeout:   timeout,
		zone:      defaultZone,
		log:       logger.OrNop(log),
		metrics:   metrics,
		now:       time.Now,
	}
}

// ProcessDocument extracts the text, runs the extraction and stores one
// invoice with all its products. An empty extraction is SKIPPED_NO_DATA
// and stores nothing.
func (s *ProcessingService) ProcessDocument(ctx context.Context, doc Document, opts Options) (ProcessOutcome, error) {
	out := ProcessOutcome{Filename: doc.Filename}
	if doc.Source == internal.SourceUpload {
		out.Filename = util.SanitizeFilename(doc.Filename)
	}

	text, err := ExtractText(doc.Content, doc.Filename, doc.ContentType)
	if err != nil {
		return out, fmt.Errorf("extract text from %s: %w", doc.Filename, err)
	}
	out.TextLength = len(text)

	products, err := s.extract(ctx, text, doc.Source)
	if err != nil {
		return out, fmt.Errorf("extract products from %s: %w", doc.Filename, err)
	}
	if len(products) == 0 {
		out.Status = internal.AttachmentSkippedNoData
		return out, nil
	}

	zone := strings.TrimSpace(opts.Zone)
	if zone == "" {
		zone = s.zone
	}
	inv := s.buildInvoice(out.Filename, text, doc.Source, products, zone, opts.Operator)
	if err := s.store.CreateInvoice(ctx, inv); err != nil {
		return out, fmt.Errorf("save invoice %s: %w", out.Filename, err)
	}

	out.Status = internal.AttachmentSaved
	out.InvoiceID = inv.ID
	out.Products = len(inv.Products)
	s.log.Info("invoice saved",
		zap.String("invoiceId", inv.ID),
		zap.String("filename", out.Filename),
		zap.String("source", string(doc.Source)),
		zap.Int("products", out.Products),
	)
	return out, nil
}

func (s *ProcessingService) extract(ctx context.Context, text string, source internal.InvoiceSource) ([]internal.ExtractedProduct, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	products, err := s.extractor.Extract(ctx, text)
	s.metrics.ObserveExtraction(string(source), time.Since(start))
	return products, err
}

func (s *ProcessingService) buildInvoice(filename, text string, source internal.InvoiceSource, products []internal.ExtractedProduct, zone string, operator *string) internal.Invoice {
	now := s.now()
	inv := internal.Invoice{
		ID:         uuid.NewString(),
		Filename:   filename,
		UploadDate: now,
		RawText:    text,
		Source:     source,
		Products:   make([]internal.Product, 0, len(products)),
	}
	for _, p := range products {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			name = internal.UnknownName
		}
		inv.Products = append(inv.Products, internal.Product{
			ID:             uuid.NewString(),
			InvoiceID:      inv.ID,
			Code13:         p.Code13,
			Name:           name,
			Quantity:       p.Quantity,
			ExpirationDate: p.ExpirationDate,
			LotNumber:      p.Lot,
			Rotation:       p.Rotation,
			PrixSansRemise: p.PrixSansRemise,
			Remise:         p.Remise,
			PrixRemisee:    p.PrixRemisee,
			Zone:           zone,
			Operator:       operator,
			CreatedAt:      now,
		})
	}
	return inv
}
