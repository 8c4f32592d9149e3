package clob

// Balance is the per (account, asset) record. Available is withdrawable or
// usable for new orders; Locked is reserved against open orders. The sum
// changes only through deposit, withdrawal, lock, unlock, or settlement.
type Balance struct {
	Available int64 `json:"available"`
	Locked    int64 `json:"locked"`
}

// Total returns available + locked.
func (b Balance) Total() int64 { return b.Available + b.Locked }

// IsZero reports whether both legs are zero.
func (b Balance) IsZero() bool { return b.Available == 0 && b.Locked == 0 }
