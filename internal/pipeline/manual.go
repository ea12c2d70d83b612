package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pharmatrack/internal"
	"pharmatrack/internal/logger"
	"pharmatrack/internal/storage"
	"pharmatrack/internal/util"
)

const (
	manualRawText     = "Saisie Manuelle"
	manualNameLayout  = "02/01/2006 15:04"
	manualLookupLimit = 8
	duplicateLimit    = 5
)

var ErrEmptyBatch = errors.New("no products provided")

type ManualStore interface {
	CreateInvoice(ctx context.Context, inv internal.Invoice) error
	LatestProductByCode(ctx context.Context, code string) (internal.Product, error)
	RecentProductsByCode(ctx context.Context, code string, limit int) ([]internal.ProductWithInvoice, error)
}

// ManualProductInput is one scanned line. ExpirationDate is kept as typed.
type ManualProductInput struct {
	Code13         string `json:"code13"`
	Quantity       string `json:"quantity"`
	ExpirationDate string `json:"expirationDate"`
}

type BatchResult struct {
	InvoiceID string `json:"invoiceId"`
	Filename  string `json:"filename"`
	Count     int    `json:"count"`
}

type ManualEntryService struct {
	store ManualStore
	zone  string
	log   *zap.Logger
	now   func() time.Time
}

func NewManualEntryService(store ManualStore, defaultZone string, log *zap.Logger) *ManualEntryService {
	if strings.TrimSpace(defaultZone) == "" {
		defaultZone = internal.DefaultZone
	}
	return &ManualEntryService{store: store, zone: defaultZone, log: logger.OrNop(log), now: time.Now}
}

// CreateBatch stores the scanned lines as one manual invoice. Names and
// prices are copied from the latest known product with the same code.
func (s *ManualEntryService) CreateBatch(ctx context.Context, inputs []ManualProductInput, zone string, operator *string) (BatchResult, error) {
	if len(inputs) == 0 {
		return BatchResult{}, ErrEmptyBatch
	}
	if zone = strings.TrimSpace(zone); zone == "" {
		zone = s.zone
	}

	known := make([]*internal.Product, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(manualLookupLimit)
	for i, in := range inputs {
		code := strings.TrimSpace(in.Code13)
		if code == "" {
			continue
		}
		i := i
		g.Go(func() error {
			p, err := s.store.LatestProductByCode(gctx, code)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			known[i] = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, fmt.Errorf("resolve products: %w", err)
	}

	now := s.now()
	inv := internal.Invoice{
		ID:         uuid.NewString(),
		Filename:   "Saisie_Manuelle_" + now.Format(manualNameLayout),
		UploadDate: now,
		RawText:    manualRawText,
		Source:     internal.SourceManual,
		Products:   make([]internal.Product, 0, len(inputs)),
	}
	for i, in := range inputs {
		p := internal.Product{
			ID:             uuid.NewString(),
			InvoiceID:      inv.ID,
			Code13:         util.OptionalString(strings.TrimSpace(in.Code13)),
			Name:           internal.ManualUnknownName,
			Quantity:       util.OptionalString(strings.TrimSpace(in.Quantity)),
			ExpirationDate: util.OptionalString(strings.TrimSpace(in.ExpirationDate)),
			LotNumber:      util.StringPtr(internal.ManualLotNumber),
			Zone:           zone,
			Operator:       operator,
			CreatedAt:      now,
		}
		if k := known[i]; k != nil {
			p.Name = k.Name
			p.PrixSansRemise = k.PrixSansRemise
			p.PrixRemisee = k.PrixRemisee
		}
		inv.Products = append(inv.Products, p)
	}

	if err := s.store.CreateInvoice(ctx, inv); err != nil {
		return BatchResult{}, fmt.Errorf("save manual batch: %w", err)
	}
	s.log.Info("manual batch saved", zap.String("invoiceId", inv.ID), zap.Int("products", len(inv.Products)))
	return BatchResult{InvoiceID: inv.ID, Filename: inv.Filename, Count: len(inv.Products)}, nil
}

// CheckProduct lists the latest entries already recorded for a code.
func (s *ManualEntryService) CheckProduct(ctx context.Context, code string) ([]internal.ProductWithInvoice, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("code is required")
	}
	return s.store.RecentProductsByCode(ctx, code, duplicateLimit)
}
