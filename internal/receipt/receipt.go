package receipt

// Record is the structured data extracted from a receipt. Fields that could not be found
// are left empty.
type Record struct {
	MerchantName string     `json:"merchant_name"`
	Date         string     `json:"date"`
	Total        string     `json:"total"`
	Items        []LineItem `json:"items"`
}

// LineItem is one purchased product or service. Prices stay display strings because OCR
// noise routinely corrupts numeric formatting.
type LineItem struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

// IsEmpty reports whether nothing at all was extracted
func (r Record) IsEmpty() bool {
	return r.MerchantName == "" && r.Date == "" && r.Total == "" && len(r.Items) == 0
}

// TotalCents parses Total on a best effort basis
func (r Record) TotalCents() (int64, bool) {
	return ParseAmount(r.Total)
}

// PriceCents parses Price on a best effort basis
func (i LineItem) PriceCents() (int64, bool) {
	return ParseAmount(i.Price)
}
