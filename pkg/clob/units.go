package clob

// All matching arithmetic runs on a single internal scale: prices are quote
// units per lot, quantities are lots, so a notional is an exact integer
// product. Native token precision only matters at the vault boundary
// (deposit/withdraw), where conversion uses floor division so that no step
// can manufacture value.

// InternalDecimals is the precision of internal ledger units.
const InternalDecimals uint8 = 6

func pow10(n uint8) int64 {
	p := int64(1)
	for i := uint8(0); i < n; i++ {
		p *= 10
	}
	return p
}

// ToInternal converts a native token amount with the given decimals to
// internal units, truncating toward zero.
func ToInternal(native int64, assetDecimals uint8) int64 {
	if assetDecimals == InternalDecimals {
		return native
	}
	if assetDecimals > InternalDecimals {
		return native / pow10(assetDecimals-InternalDecimals)
	}
	return native * pow10(InternalDecimals-assetDecimals)
}

// FromInternal converts internal units back to native token precision,
// truncating toward zero. Round-tripping loses at most one native unit of
// dust, and the dust stays with the party initiating the conversion.
func FromInternal(internal int64, assetDecimals uint8) int64 {
	if assetDecimals == InternalDecimals {
		return internal
	}
	if assetDecimals > InternalDecimals {
		return internal * pow10(assetDecimals-InternalDecimals)
	}
	return internal / pow10(InternalDecimals-assetDecimals)
}

// FeeFor computes a fee in basis points, floored so truncation always favors
// the payer.
func FeeFor(amount, bps int64) int64 {
	if bps <= 0 || amount <= 0 {
		return 0
	}
	return amount * bps / 10000
}
