package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"pharmatrack/internal"
	"pharmatrack/internal/config"
	"pharmatrack/internal/logger"
	"pharmatrack/internal/util"
)

// ErrExtraction marks a completion answer that is not the expected JSON.
var ErrExtraction = errors.New("extraction failed")

const systemPrompt = "You are a data extraction assistant. You output ONLY valid JSON."

const promptTemplate = `
Analyze the following text extracted from a pharmaceutical delivery note or invoice.
Extract the following information for each product line item:
- Code 13 (EAN/CIP code, usually 13 digits)
- Product Name
- Quantity
- Expiration Date (Date de péremption)
- Lot Number (Numéro de lot)
- Rotation Mensuelle (Monthly rotation)
- Prix HT BRUT (Price without discount / Prix sans remise)
- Remise (Discount rate in %% / Taux de remise)
- PU HT NET (Discounted price / Prix remisé)

Return ONLY valid JSON in the following format:
{
  "products": [
    {
      "code13": "string or null",
      "name": "string",
      "quantity": "string or number",
      "expirationDate": "string or null",
      "lot": "string or null",
      "rotation_mensuelle": "string or null",
      "prix_sans_remise": "string or null",
      "remise": "string or null",
      "prix_remisee": "string or null"
    }
  ]
}

Text to analyze:
%s
`

var reCodeFence = regexp.MustCompile("```json\\n?|\\n?```")

// Completer is the text-completion collaborator.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type Extractor struct {
	completer Completer
	minChars  int
	maxChars  int
	log       *zap.Logger
}

func NewExtractor(c Completer, cfg config.Config, log *zap.Logger) *Extractor {
	e := &Extractor{completer: c, minChars: cfg.ExtractionMinChars, maxChars: cfg.ExtractionMaxChars, log: logger.OrNop(log)}
	if e.minChars <= 0 {
		e.minChars = 50
	}
	if e.maxChars <= 0 {
		e.maxChars = 15000
	}
	return e
}

// Extract returns nil without calling the completer when the text is too
// short to be a real document. Completer failures are returned as is and
// an unparseable answer wraps ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, text string) ([]internal.ExtractedProduct, error) {
	if utf8.RuneCountInString(text) < e.minChars {
		return nil, nil
	}

	prompt := fmt.Sprintf(promptTemplate, util.Truncate(text, e.maxChars))
	answer, err := e.completer.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	products, err := decodeProducts(answer)
	if err != nil {
		e.log.Warn("extraction answer rejected", zap.Int("answerLen", len(answer)), zap.Error(err))
		return nil, err
	}
	return products, nil
}

type rawProduct struct {
	Code13         looseString `json:"code13"`
	Name           looseString `json:"name"`
	Quantity       looseString `json:"quantity"`
	ExpirationDate looseString `json:"expirationDate"`
	Lot            looseString `json:"lot"`
	Rotation       looseString `json:"rotation_mensuelle"`
	PrixSansRemise looseString `json:"prix_sans_remise"`
	Remise         looseString `json:"remise"`
	PrixRemisee    looseString `json:"prix_remisee"`
}

func decodeProducts(answer string) ([]internal.ExtractedProduct, error) {
	clean := strings.TrimSpace(reCodeFence.ReplaceAllString(answer, ""))

	var payload struct {
		Products *[]rawProduct `json:"products"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	// A missing or null array means nothing was found, not a bad answer.
	if payload.Products == nil {
		return []internal.ExtractedProduct{}, nil
	}

	out := make([]internal.ExtractedProduct, 0, len(*payload.Products))
	for _, p := range *payload.Products {
		name := internal.UnknownName
		if p.Name.Value != nil {
			name = *p.Name.Value
		}
		out = append(out, internal.ExtractedProduct{
			Code13:         p.Code13.Value,
			Name:           name,
			Quantity:       p.Quantity.Value,
			ExpirationDate: p.ExpirationDate.Value,
			Lot:            p.Lot.Value,
			Rotation:       p.Rotation.Value,
			PrixSansRemise: p.PrixSansRemise.Value,
			Remise:         p.Remise.Value,
			PrixRemisee:    p.PrixRemisee.Value,
		})
	}
	return out, nil
}

// looseString accepts a JSON string, number or boolean and keeps its text.
// null and empty strings become nil.
type looseString struct {
	Value *string
}

func (l *looseString) UnmarshalJSON(b []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}

	var s string
	switch t := v.(type) {
	case nil:
		l.Value = nil
		return nil
	case string:
		s = t
	case json.Number:
		s = t.String()
	case bool:
		if !t {
			l.Value = nil
			return nil
		}
		s = "true"
	default:
		return fmt.Errorf("unexpected value %s", string(b))
	}

	l.Value = util.OptionalString(s)
	return nil
}
