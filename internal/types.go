package internal

import "time"

type InvoiceSource string

const (
	SourceUpload InvoiceSource = "upload"
	SourceEmail  InvoiceSource = "email"
	SourceManual InvoiceSource = "manual"
)

const (
	DefaultZone       = "DEPOT"
	UnknownName       = "Inconnu"
	ManualUnknownName = "Produit Inconnu (Manual)"
	ManualLotNumber   = "MANUAL"
)

// CatalogRecord is one row of the pharmacy stock catalog, keyed by Code.
type CatalogRecord struct {
	Code        string    `csv:"code13"`
	Name        string    `csv:"name"`
	Stock       int       `csv:"stock"`
	Rotation    float64   `csv:"rotation"`
	LastUpdated time.Time `csv:"-"`
}

// ExtractedProduct is a line item as returned by the extraction prompt.
// Every field except Name keeps the raw extracted text.
type ExtractedProduct struct {
	Code13         *string `json:"code13"`
	Name           string  `json:"name"`
	Quantity       *string `json:"quantity"`
	ExpirationDate *string `json:"expirationDate"`
	Lot            *string `json:"lot"`
	Rotation       *string `json:"rotation_mensuelle"`
	PrixSansRemise *string `json:"prix_sans_remise"`
	Remise         *string `json:"remise"`
	PrixRemisee    *string `json:"prix_remisee"`
}

type Invoice struct {
	ID         string
	Filename   string
	UploadDate time.Time
	RawText    string
	Source     InvoiceSource
	Products   []Product
}

type Product struct {
	ID             string
	InvoiceID      string
	Code13         *string
	Name           string
	Quantity       *string
	ExpirationDate *string
	LotNumber      *string
	Rotation       *string
	PrixSansRemise *string
	Remise         *string
	PrixRemisee    *string
	Zone           string
	Operator       *string
	CreatedAt      time.Time
}

// ProductWithInvoice is a product joined with its parent invoice header.
type ProductWithInvoice struct {
	Product
	InvoiceFilename   string
	InvoiceUploadDate time.Time
}

// EnrichedProduct carries catalog data on top of an extracted product.
type EnrichedProduct struct {
	ProductWithInvoice
	OriginalName       string
	CatalogStock       *int
	CatalogRotation    *float64
	CatalogLastUpdated *time.Time
}

type EmailStatus string

const (
	EmailSuccess EmailStatus = "SUCCESS"
	EmailFailed  EmailStatus = "FAILED"
)

type ProcessedEmail struct {
	MessageID   string
	Status      EmailStatus
	Subject     *string
	Sender      *string
	ProcessedAt time.Time
}

// MessageRef describes a mailbox message before its body is fetched.
type MessageRef struct {
	Provider  string
	UID       uint32
	ID        string
	MessageID string
	Subject   string
	From      string
	Date      time.Time
}

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type AttachmentStatus string

const (
	AttachmentSaved         AttachmentStatus = "SAVED"
	AttachmentSkippedNoData AttachmentStatus = "SKIPPED_NO_DATA"
	AttachmentError         AttachmentStatus = "ERROR"
)

type AttachmentResult struct {
	MessageID string           `json:"messageId"`
	Filename  string           `json:"filename"`
	Status    AttachmentStatus `json:"status"`
	Products  int              `json:"products,omitempty"`
	InvoiceID string           `json:"invoiceId,omitempty"`
	Error     string           `json:"error,omitempty"`
}
