package negotiation

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tbourn/go-negotiation-backend/internal/domain"
)

// printer renders customer-facing prices with English grouping ($1,299.99).
var printer = message.NewPrinter(language.English)

// FormatPrice renders a price as a dollar string with cents.
func FormatPrice(v float64) string {
	return printer.Sprintf("$%.2f", v)
}

// Greeting is the assistant's opening line, generated once when a session is
// created. It cites the product name and list price.
func Greeting(p *domain.Product) string {
	return printer.Sprintf(
		"Hello! I'm here to help you with %s. Our list price is %s - let me know any questions or what price you have in mind!",
		p.Name, FormatPrice(p.ListPrice))
}

// FloorMessage is the fixed reply once automated negotiation has reached the
// floor price. The session stays active; the customer can still add to cart.
func FloorMessage(p *domain.Product, floor float64) string {
	return printer.Sprintf(
		"I'm truly sorry, but %s is the best price for %s. Please add it to your cart if you'd like to proceed.",
		FormatPrice(floor), p.Name)
}

// Apology is the canned assistant reply used when the provider gateway fails
// past its fallback. The negotiation is never left without a reply.
const Apology = "Sorry, something went wrong on my end. Please try again shortly."

// BuildPrompt assembles the completion prompt for one turn. The template is
// selected by branch: the information template forbids spontaneous discounts,
// the negotiation template carries the floor and step-down guidelines. The
// full ledger follows, replayed in order with admin and assistant entries
// mapped to the assistant voice and system entries skipped, then the new
// customer message.
func BuildPrompt(p *domain.Product, currentPrice, floorPrice float64, ledger []domain.Message, userText string, discount bool) string {
	var sb strings.Builder

	if discount {
		sb.WriteString("You're a warm, human-like sales assistant negotiating step by step.\n\n")
		sb.WriteString("Product: " + p.Name + "\n")
		sb.WriteString("Description: " + p.Description + "\n")
		sb.WriteString("Current Price: " + FormatPrice(currentPrice) + "\n")
		sb.WriteString("Floor Price: " + FormatPrice(floorPrice) + "\n\n")
		sb.WriteString("GUIDELINES:\n")
		sb.WriteString("1. First offer: small (~5%) off current price, above floor.\n")
		sb.WriteString("2. Phrase naturally: \"I can meet you at $X.XX - does that work for you?\"\n")
		sb.WriteString("3. If pressed again, step down until floor.\n")
		sb.WriteString("4. At floor: \"I'm sorry, but " + FormatPrice(floorPrice) + " is the best I can do.\"\n")
		sb.WriteString("5. Keep it warm and natural.\n")
	} else {
		sb.WriteString("You're a friendly sales assistant. ")
		sb.WriteString("Answer product questions warmly, and do NOT offer a discount unless explicitly asked.\n\n")
		sb.WriteString("Product: " + p.Name + "\n")
		sb.WriteString("Description: " + p.Description + "\n")
		sb.WriteString("Current Price: " + FormatPrice(currentPrice) + "\n")
	}

	for _, m := range ledger {
		switch m.Role {
		case domain.RoleSystem:
			continue
		case domain.RoleAssistant, domain.RoleAdmin:
			sb.WriteString("\nassistant: " + m.Content)
		default:
			sb.WriteString("\ncustomer: " + m.Content)
		}
	}
	sb.WriteString("\ncustomer: " + userText)

	return sb.String()
}
