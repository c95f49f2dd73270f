package rates

import "time"

// CurrencyRate is one append-only entry of the conversion rate ledger.
// Rate is expressed as units of display currency per one unit of base
// currency; all persisted monetary fields stay in base currency.
type CurrencyRate struct {
	ID        string
	StoreID   string
	Rate      float64
	CreatedAt time.Time
	CreatedBy string
}

// RecordInput for appending a rate entry.
type RecordInput struct {
	StoreID   string
	Rate      float64
	CreatedBy string
}
