package relay

import "regexp"

// Brokers decorate instrument names with account-type suffixes; the
// same instrument is "XAUUSD" on one terminal and "XAUUSD-STD" or
// "XAUUSD.m" on another. Longer alternatives come first so ".mini"
// is not half-eaten by ".m".
var symbolSuffix = regexp.MustCompile(`(?i)(-std|-stp|-pro|-ecn|\.mini|\.micro|\.cash|\.m|\.r)$`)

// NormalizeSymbol strips a known broker suffix from a symbol name.
// Names without a recognized suffix are returned unchanged.
func NormalizeSymbol(symbol string) string {
	return symbolSuffix.ReplaceAllString(symbol, "")
}
