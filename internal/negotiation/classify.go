// Package negotiation holds the pure text mechanics of a negotiation turn:
// classifying customer intent, assembling model prompts, scanning replies for
// currency amounts, and rendering the canned customer-facing messages.
//
// The classifier is deliberately a coarse lexical keyword match. False
// negatives route to information mode and false positives to negotiation
// mode; both are acceptable because the price clamp is the real safety
// mechanism. Do not replace it with a model-based classifier.
package negotiation

import "regexp"

// discountRE matches the fixed keyword set associated with price haggling,
// case-insensitively and on word boundaries ("price" matches, "pricey" does not).
var discountRE = regexp.MustCompile(`(?i)\b(discount|lower|cheaper|price|deal)\b`)

// IsDiscountRequest reports whether a customer message should be routed to
// the negotiation branch rather than the information branch.
func IsDiscountRequest(text string) bool {
	return discountRE.MatchString(text)
}
