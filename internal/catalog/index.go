package catalog

import (
	"pharmatrack/internal"
	"pharmatrack/internal/util"
)

type Index struct {
	ByCode map[string]internal.CatalogRecord
}

func BuildIndex(records []internal.CatalogRecord) *Index {
	idx := &Index{ByCode: make(map[string]internal.CatalogRecord, len(records))}
	for _, rec := range records {
		norm := util.NormalizeCode(rec.Code)
		if norm == "" {
			continue
		}
		idx.ByCode[norm] = rec
	}
	return idx
}

func (idx *Index) Lookup(code *string) (internal.CatalogRecord, bool) {
	if idx == nil || code == nil {
		return internal.CatalogRecord{}, false
	}
	rec, ok := idx.ByCode[util.NormalizeCode(*code)]
	return rec, ok
}

// Enrich swaps in the catalog name for every product whose code is known
// and attaches the catalog stock figures. The extracted name is kept in
// OriginalName either way.
func (idx *Index) Enrich(products []internal.ProductWithInvoice) []internal.EnrichedProduct {
	out := make([]internal.EnrichedProduct, 0, len(products))
	for _, p := range products {
		e := internal.EnrichedProduct{ProductWithInvoice: p, OriginalName: p.Name}
		if rec, ok := idx.Lookup(p.Code13); ok {
			if rec.Name != "" {
				e.Name = rec.Name
			}
			e.CatalogStock = util.IntPtr(rec.Stock)
			e.CatalogRotation = util.FloatPtr(rec.Rotation)
			updated := rec.LastUpdated
			e.CatalogLastUpdated = &updated
		}
		out = append(out, e)
	}
	return out
}
