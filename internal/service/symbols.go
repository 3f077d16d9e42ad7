package service

import "strings"

// quoteSuffixes are known quote assets, longest first so FDUSD wins over
// USD when both match.
var quoteSuffixes = []string{
	"FDUSD", "USDT", "USDC", "BUSD", "TUSD",
	"USD", "EUR", "GBP", "TRY", "BTC", "ETH", "BNB",
}

// splitSymbol splits a market symbol into base and quote assets. Returns
// false when no known quote suffix matches.
func splitSymbol(symbol string) (base, quote string, ok bool) {
	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(symbol, suffix) && len(symbol) > len(suffix) {
			return symbol[:len(symbol)-len(suffix)], suffix, true
		}
	}
	return "", "", false
}
