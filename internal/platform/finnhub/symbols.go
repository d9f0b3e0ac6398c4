package finnhub

import "strings"

const forexExchange = "OANDA:"

// ToProvider maps an internal symbol to Finnhub's notation. Currency pairs
// written as "EUR/USD" are routed to OANDA ("OANDA:EUR_USD"); everything
// else passes through.
func ToProvider(symbol string) string {
	if base, quote, ok := strings.Cut(symbol, "/"); ok {
		return forexExchange + base + "_" + quote
	}
	return symbol
}

// FromProvider is the inverse of ToProvider.
func FromProvider(symbol string) string {
	if pair, ok := strings.CutPrefix(symbol, forexExchange); ok {
		return strings.Replace(pair, "_", "/", 1)
	}
	return symbol
}
