package market

import (
	"fmt"
	"strings"
)

// DefaultContractSize is the lot multiplier for standard FX lots.
const DefaultContractSize = 100_000.0

// Instruments are six-letter pair codes: base currency followed by quote
// currency, e.g. "EURUSD".

func ValidateInstrument(pair string) error {
	if len(pair) != 6 {
		return fmt.Errorf("instrument %q: want six-letter pair code", pair)
	}
	if pair != strings.ToUpper(pair) {
		return fmt.Errorf("instrument %q: want upper-case pair code", pair)
	}
	return nil
}

// BaseCurrency returns the leading three letters of a pair code.
func BaseCurrency(pair string) string {
	if len(pair) < 3 {
		return ""
	}
	return pair[:3]
}

// QuoteCurrency returns the trailing three letters of a pair code. Profits
// on a pair are denominated in its quote currency.
func QuoteCurrency(pair string) string {
	if len(pair) < 6 {
		return ""
	}
	return pair[3:]
}
