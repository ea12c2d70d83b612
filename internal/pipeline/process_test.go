package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmatrack/internal"
	"pharmatrack/internal/storage"
	"pharmatrack/internal/util"
)

type fakeExtractor struct {
	products []internal.ExtractedProduct
	err      error
	texts    []string
}

func (f *fakeExtractor) Extract(_ context.Context, text string) ([]internal.ExtractedProduct, error) {
	f.texts = append(f.texts, text)
	return f.products, f.err
}

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func textDocument(name string, source internal.InvoiceSource) Document {
	return Document{Filename: name, ContentType: "text/plain", Content: []byte("Bon de livraison\nDOLIPRANE 12/2026"), Source: source}
}

func TestProcessDocumentSavesInvoice(t *testing.T) {
	db := openTestDB(t)
	ex := &fakeExtractor{products: []internal.ExtractedProduct{
		{Code13: util.StringPtr("3400930000001"), Name: "DOLIPRANE", Quantity: util.StringPtr("12"), ExpirationDate: util.StringPtr("12/2026")},
		{Name: "  "},
	}}
	svc := NewProcessingService(db, ex, time.Second, "", nil, nil)
	fixed := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	out, err := svc.ProcessDocument(context.Background(), textDocument("BL été (1).txt", internal.SourceUpload), Options{Zone: "OFFICINE", Operator: util.StringPtr("marie")})
	require.NoError(t, err)
	assert.Equal(t, internal.AttachmentSaved, out.Status)
	assert.Equal(t, 2, out.Products)
	assert.Equal(t, "BL__t___1_.txt", out.Filename)
	require.Equal(t, []string{"Bon de livraison\nDOLIPRANE 12/2026"}, ex.texts)

	inv, err := db.GetInvoice(context.Background(), out.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, out.Filename, inv.Filename)
	assert.Equal(t, internal.SourceUpload, inv.Source)
	assert.True(t, fixed.Equal(inv.UploadDate))
	require.Len(t, inv.Products, 2)
	assert.Equal(t, "DOLIPRANE", inv.Products[0].Name)
	assert.Equal(t, "OFFICINE", inv.Products[0].Zone)
	assert.Equal(t, "marie", *inv.Products[0].Operator)
	assert.Equal(t, internal.UnknownName, inv.Products[1].Name)
}

func TestProcessDocumentDefaultsZoneAndKeepsEmailFilename(t *testing.T) {
	db := openTestDB(t)
	ex := &fakeExtractor{products: []internal.ExtractedProduct{{Name: "SMECTA"}}}
	svc := NewProcessingService(db, ex, 0, "", nil, nil)

	out, err := svc.ProcessDocument(context.Background(), textDocument("BL 42.txt", internal.SourceEmail), Options{})
	require.NoError(t, err)
	assert.Equal(t, "BL 42.txt", out.Filename)

	inv, err := db.GetInvoice(context.Background(), out.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceEmail, inv.Source)
	assert.Equal(t, internal.DefaultZone, inv.Products[0].Zone)
	assert.Nil(t, inv.Products[0].Operator)
}

func TestProcessDocumentWithoutProductsStoresNothing(t *testing.T) {
	db := openTestDB(t)
	svc := NewProcessingService(db, &fakeExtractor{}, time.Second, "", nil, nil)

	out, err := svc.ProcessDocument(context.Background(), textDocument("vide.txt", internal.SourceUpload), Options{})
	require.NoError(t, err)
	assert.Equal(t, internal.AttachmentSkippedNoData, out.Status)
	assert.Empty(t, out.InvoiceID)

	invoices, err := db.ListInvoices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

func TestProcessDocumentFailures(t *testing.T) {
	db := openTestDB(t)

	svc := NewProcessingService(db, &fakeExtractor{err: ErrExtraction}, time.Second, "", nil, nil)
	_, err := svc.ProcessDocument(context.Background(), textDocument("bl.txt", internal.SourceUpload), Options{})
	assert.ErrorIs(t, err, ErrExtraction)

	_, err = svc.ProcessDocument(context.Background(), Document{Filename: "photo.png", ContentType: "image/png"}, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedDocument)

	invoices, err := db.ListInvoices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

type failingInvoiceStore struct{}

func (failingInvoiceStore) CreateInvoice(context.Context, internal.Invoice) error {
	return errors.New("disk full")
}

func TestProcessDocumentStoreFailure(t *testing.T) {
	ex := &fakeExtractor{products: []internal.ExtractedProduct{{Name: "SMECTA"}}}
	svc := NewProcessingService(failingInvoiceStore{}, ex, time.Second, "", nil, nil)

	_, err := svc.ProcessDocument(context.Background(), textDocument("bl.txt", internal.SourceUpload), Options{})
	assert.ErrorContains(t, err, "disk full")
}
