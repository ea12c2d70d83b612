package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pharmatrack/internal"
)

var ErrNotFound = errors.New("not found")

// Fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := conn.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS catalog_products (
  code13 TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  stock INTEGER NOT NULL DEFAULT 0,
  rotation REAL NOT NULL DEFAULT 0,
  lastUpdated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS invoices (
  id TEXT PRIMARY KEY,
  filename TEXT NOT NULL,
  uploadDate TEXT NOT NULL,
  rawText TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL DEFAULT 'upload'
);
CREATE INDEX IF NOT EXISTS idx_invoices_uploadDate ON invoices(uploadDate);

CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  invoiceId TEXT NOT NULL,
  code13 TEXT,
  name TEXT NOT NULL,
  quantity TEXT,
  expirationDate TEXT,
  lotNumber TEXT,
  rotation_mensuelle TEXT,
  prix_sans_remise TEXT,
  remise TEXT,
  prix_remisee TEXT,
  zone TEXT NOT NULL DEFAULT 'DEPOT',
  operator TEXT,
  position INTEGER NOT NULL DEFAULT 0,
  createdAt TEXT NOT NULL,
  FOREIGN KEY(invoiceId) REFERENCES invoices(id)
);
CREATE INDEX IF NOT EXISTS idx_products_invoiceId ON products(invoiceId);
CREATE INDEX IF NOT EXISTS idx_products_code13 ON products(code13);

CREATE TABLE IF NOT EXISTS processed_emails (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  messageId TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL,
  subject TEXT,
  sender TEXT,
  processedAt TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

// UpsertCatalogProduct inserts the record or overwrites name, stock,
// rotation and lastUpdated of the existing code.
func (d *DB) UpsertCatalogProduct(ctx context.Context, rec internal.CatalogRecord) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO catalog_products (code13, name, stock, rotation, lastUpdated)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(code13) DO UPDATE SET
  name=excluded.name,
  stock=excluded.stock,
  rotation=excluded.rotation,
  lastUpdated=excluded.lastUpdated
`, rec.Code, rec.Name, rec.Stock, rec.Rotation, formatTime(rec.LastUpdated))
	return err
}

func (d *DB) ListCatalogProducts(ctx context.Context) ([]internal.CatalogRecord, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT code13, name, stock, rotation, lastUpdated
FROM catalog_products ORDER BY code13 ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCatalog(rows)
}

func (d *DB) CatalogByCodes(ctx context.Context, codes []string) ([]internal.CatalogRecord, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	args := make([]any, len(codes))
	for i, c := range codes {
		args[i] = c
	}
	query := `
SELECT code13, name, stock, rotation, lastUpdated
FROM catalog_products WHERE code13 IN (` + placeholders(len(codes)) + `)`

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCatalog(rows)
}

func scanCatalog(rows *sql.Rows) ([]internal.CatalogRecord, error) {
	var out []internal.CatalogRecord
	for rows.Next() {
		var rec internal.CatalogRecord
		var updated string
		if err := rows.Scan(&rec.Code, &rec.Name, &rec.Stock, &rec.Rotation, &updated); err != nil {
			return nil, err
		}
		rec.LastUpdated = parseTime(updated)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CreateInvoice writes the invoice and all of its products in one
// transaction. Nothing is stored if any product insert fails.
func (d *DB) CreateInvoice(ctx context.Context, inv internal.Invoice) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO invoices (id, filename, uploadDate, rawText, source)
VALUES (?, ?, ?, ?, ?)
`, inv.ID, inv.Filename, formatTime(inv.UploadDate), inv.RawText, string(inv.Source)); err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO products (
  id, invoiceId, code13, name, quantity, expirationDate, lotNumber,
  rotation_mensuelle, prix_sans_remise, remise, prix_remisee, zone, operator, position, createdAt
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, p := range inv.Products {
		if _, err := stmt.ExecContext(ctx,
			p.ID, inv.ID, p.Code13, p.Name, p.Quantity, p.ExpirationDate, p.LotNumber,
			p.Rotation, p.PrixSansRemise, p.Remise, p.PrixRemisee, p.Zone, p.Operator, i, formatTime(p.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert product %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// ListInvoices returns every invoice with its products, newest upload first.
func (d *DB) ListInvoices(ctx context.Context) ([]internal.Invoice, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT id, filename, uploadDate, rawText, source
FROM invoices ORDER BY uploadDate DESC`)
	if err != nil {
		return nil, err
	}

	var out []internal.Invoice
	index := map[string]int{}
	for rows.Next() {
		var inv internal.Invoice
		var uploaded, source string
		if err := rows.Scan(&inv.ID, &inv.Filename, &uploaded, &inv.RawText, &source); err != nil {
			_ = rows.Close()
			return nil, err
		}
		inv.UploadDate = parseTime(uploaded)
		inv.Source = internal.InvoiceSource(source)
		index[inv.ID] = len(out)
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	products, err := d.queryProducts(ctx, `ORDER BY p.invoiceId, p.position ASC`)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		if i, ok := index[p.InvoiceID]; ok {
			out[i].Products = append(out[i].Products, p.Product)
		}
	}
	return out, nil
}

func (d *DB) GetInvoice(ctx context.Context, id string) (internal.Invoice, error) {
	var inv internal.Invoice
	var uploaded, source string
	err := d.conn.QueryRowContext(ctx, `
SELECT id, filename, uploadDate, rawText, source FROM invoices WHERE id = ?
`, id).Scan(&inv.ID, &inv.Filename, &uploaded, &inv.RawText, &source)
	if errors.Is(err, sql.ErrNoRows) {
		return internal.Invoice{}, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return internal.Invoice{}, err
	}
	inv.UploadDate = parseTime(uploaded)
	inv.Source = internal.InvoiceSource(source)

	products, err := d.queryProducts(ctx, `WHERE p.invoiceId = ? ORDER BY p.position ASC`, id)
	if err != nil {
		return internal.Invoice{}, err
	}
	for _, p := range products {
		inv.Products = append(inv.Products, p.Product)
	}
	return inv, nil
}

func (d *DB) RenameInvoice(ctx context.Context, id, filename string) error {
	res, err := d.conn.ExecContext(ctx, `UPDATE invoices SET filename = ? WHERE id = ?`, filename, id)
	if err != nil {
		return err
	}
	return expectAffected(res, "invoice "+id)
}

// DeleteInvoice removes the products first, then the invoice, atomically.
func (d *DB) DeleteInvoice(ctx context.Context, id string) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM products WHERE invoiceId = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := expectAffected(res, "invoice "+id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListProductsWithInvoice returns all products joined with their invoice,
// most recently created first.
func (d *DB) ListProductsWithInvoice(ctx context.Context) ([]internal.ProductWithInvoice, error) {
	return d.queryProducts(ctx, `ORDER BY p.createdAt DESC, p.position ASC`)
}

// LatestProductByCode returns the most recent product for the code whose
// name was actually resolved, or ErrNotFound.
func (d *DB) LatestProductByCode(ctx context.Context, code string) (internal.Product, error) {
	rows, err := d.queryProducts(ctx, `
WHERE p.code13 = ? AND p.name <> ?
ORDER BY p.createdAt DESC LIMIT 1`, code, internal.ManualUnknownName)
	if err != nil {
		return internal.Product{}, err
	}
	if len(rows) == 0 {
		return internal.Product{}, fmt.Errorf("product %s: %w", code, ErrNotFound)
	}
	return rows[0].Product, nil
}

func (d *DB) RecentProductsByCode(ctx context.Context, code string, limit int) ([]internal.ProductWithInvoice, error) {
	if limit <= 0 {
		limit = 5
	}
	return d.queryProducts(ctx, `
WHERE p.code13 = ?
ORDER BY p.createdAt DESC LIMIT ?`, code, limit)
}

func (d *DB) queryProducts(ctx context.Context, tail string, args ...any) ([]internal.ProductWithInvoice, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT p.id, p.invoiceId, p.code13, p.name, p.quantity, p.expirationDate, p.lotNumber,
       p.rotation_mensuelle, p.prix_sans_remise, p.remise, p.prix_remisee, p.zone, p.operator, p.createdAt,
       i.filename, i.uploadDate
FROM products p
JOIN invoices i ON i.id = p.invoiceId
`+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ProductWithInvoice
	for rows.Next() {
		var row internal.ProductWithInvoice
		var created, uploaded string
		p := &row.Product
		if err := rows.Scan(
			&p.ID, &p.InvoiceID, &p.Code13, &p.Name, &p.Quantity, &p.ExpirationDate, &p.LotNumber,
			&p.Rotation, &p.PrixSansRemise, &p.Remise, &p.PrixRemisee, &p.Zone, &p.Operator, &created,
			&row.InvoiceFilename, &uploaded,
		); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		row.InvoiceUploadDate = parseTime(uploaded)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) IsEmailProcessed(ctx context.Context, messageID string) (bool, error) {
	var one int
	err := d.conn.QueryRowContext(ctx, `SELECT 1 FROM processed_emails WHERE messageId = ?`, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkEmailProcessed records the message once; a second call for the same
// message id keeps the first record.
func (d *DB) MarkEmailProcessed(ctx context.Context, rec internal.ProcessedEmail) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO processed_emails (messageId, status, subject, sender, processedAt)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(messageId) DO NOTHING
`, rec.MessageID, string(rec.Status), rec.Subject, rec.Sender, formatTime(rec.ProcessedAt))
	return err
}

func (d *DB) GetProcessedEmail(ctx context.Context, messageID string) (internal.ProcessedEmail, error) {
	var rec internal.ProcessedEmail
	var status, processed string
	err := d.conn.QueryRowContext(ctx, `
SELECT messageId, status, subject, sender, processedAt FROM processed_emails WHERE messageId = ?
`, messageID).Scan(&rec.MessageID, &status, &rec.Subject, &rec.Sender, &processed)
	if errors.Is(err, sql.ErrNoRows) {
		return internal.ProcessedEmail{}, fmt.Errorf("processed email %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return internal.ProcessedEmail{}, err
	}
	rec.Status = internal.EmailStatus(status)
	rec.ProcessedAt = parseTime(processed)
	return rec, nil
}

func (d *DB) SetMetadata(ctx context.Context, key, value string) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(ctx context.Context, key string) (*string, error) {
	var value string
	err := d.conn.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func expectAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
