// Package domain defines the persistence models for products, negotiation
// sessions, and messages. These types are mapped with GORM and form the core
// data layer of the negotiation backend.
package domain

import (
	"math"
	"time"

	"gorm.io/gorm"
)

// Message roles. Admin and system entries are operator/engine authored and
// are relabeled or hidden on the customer-facing transcript.
const (
	RoleCustomer  = "customer"
	RoleAssistant = "assistant"
	RoleAdmin     = "admin"
	RoleSystem    = "system"
)

// Round2 rounds a price to two decimal places. All prices stored on sessions
// and products pass through this before being persisted or compared.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Product is a catalog entry the negotiation core reads from. The core never
// mutates products; they are owned by the (out of scope) store CRUD surface.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name / Description: shown to the customer and embedded in prompts.
//   - ListPrice: starting price for every new negotiation session.
//   - MaxDiscount: largest total discount automated negotiation may concede.
type Product struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	Name        string         `json:"name"         gorm:"type:varchar(255);not null"`
	Description string         `json:"description"  gorm:"type:text"`
	ListPrice   float64        `json:"list_price"   gorm:"not null;check:list_price >= 0"`
	MaxDiscount float64        `json:"max_discount" gorm:"not null;check:max_discount >= 0"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string { return "products" }

// FloorPrice is the lowest price automated negotiation may reach for this
// product, rounded to cents.
func (p Product) FloorPrice() float64 {
	return Round2(p.ListPrice - p.MaxDiscount)
}

// NegotiationSession represents one haggling conversation between a customer
// and the assistant over a single product.
//
// Invariants while HandedToHuman is false:
//   - FloorPrice <= CurrentPrice <= ListPrice at the end of every turn.
//   - CurrentPrice never increases between automated turns.
//
// Admin overrides are exempt from both bounds. At most one active session
// exists per (customer, product) pair; the creation path is find-or-create.
type NegotiationSession struct {
	ID            string         `json:"id"              gorm:"type:char(36);primaryKey"`
	CustomerID    string         `json:"customer_id"     gorm:"type:varchar(64);not null;index:idx_customer_product,priority:1"`
	ProductID     string         `json:"product_id"      gorm:"type:char(36);not null;index:idx_customer_product,priority:2"`
	CurrentPrice  float64        `json:"current_price"   gorm:"not null"`
	Active        bool           `json:"active"          gorm:"not null;default:true;index"`
	HandedToHuman bool           `json:"handed_to_human" gorm:"not null;default:false"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"               gorm:"index"`

	// Product supplies list price, floor discount, and description. Read-only
	// to the negotiation core.
	Product Product `json:"-" gorm:"foreignKey:ProductID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for NegotiationSession.
func (NegotiationSession) TableName() string { return "negotiation_sessions" }

// Message is a single utterance in a session's ledger. Messages are immutable
// once written; there is no update or delete path. Conversation order is
// (CreatedAt, Seq): Seq is a per-session monotone counter assigned on append
// so same-timestamp rows replay deterministically.
type Message struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	SessionID string         `json:"session_id" gorm:"type:char(36);not null;index:idx_session_msgs,priority:1"`
	Role      string         `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('customer','assistant','admin','system')"`
	Content   string         `json:"content"    gorm:"type:text;not null"`
	Seq       int64          `json:"seq"        gorm:"not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"index:idx_session_msgs,priority:2"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`

	// Session is the owning conversation. Messages are cascade-deleted if
	// their session is removed.
	Session NegotiationSession `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
