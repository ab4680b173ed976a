package negotiation

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tbourn/go-negotiation-backend/internal/domain"
)

// amountRE matches a dollar amount in free text: $12, $12.5, $12.50, and the
// thousands-grouped form FormatPrice emits ($1,299.99). The grouped
// alternative comes first so "$1,299.99" never scans as "$1".
var amountRE = regexp.MustCompile(`\$([0-9]{1,3}(?:,[0-9]{3})+(?:\.[0-9]{1,2})?|[0-9]+(?:\.[0-9]{1,2})?)`)

// ScanAmount extracts the first currency amount from text. The boolean is
// false when the text carries no amount.
func ScanAmount(text string) (float64, bool) {
	m := amountRE.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ClampPrice bounds a model-proposed amount to [floor, current] and rounds to
// cents: the assistant may move the price down, never up, and never below the
// floor, regardless of what text the model produced.
func ClampPrice(proposed, floor, current float64) float64 {
	if proposed > current {
		proposed = current
	}
	if proposed < floor {
		proposed = floor
	}
	return domain.Round2(proposed)
}
