package models

import (
	"github.com/google/uuid"
)

// RawCard is a product card as returned by the marketplace content API.
// Every field is optional on the wire and checked by the catalog validator.
type RawCard struct {
	NmID        *int64    `json:"nmID" validate:"required,gt=0"`
	ImtID       *int64    `json:"imtID" validate:"required,gt=0"`
	SubjectName string    `json:"subjectName" validate:"required"`
	VendorCode  string    `json:"vendorCode" validate:"required"`
	Title       string    `json:"title" validate:"required"`
	Sizes       []RawSize `json:"sizes" validate:"required,min=1"`
}

type RawSize struct {
	TechSize *string  `json:"techSize"`
	Skus     []string `json:"skus"`
}

// Card is a validated, normalized card ready for reconciliation.
type Card struct {
	NmID       int64      `json:"nm_id"`
	ImtID      int64      `json:"imt_id"`
	VendorCode string     `json:"vendor_code"`
	Title      string     `json:"title"`
	Category   string     `json:"category"`
	Sizes      []CardSize `json:"sizes"`
}

type CardSize struct {
	Barcode string `json:"barcode"`
	Size    string `json:"size"`
}

// Product is a row of the products table.
type Product struct {
	ID         uuid.UUID `db:"id" json:"id"`
	SerialNo   int64     `db:"serial_no" json:"serial_no"`
	NmID       int64     `db:"nm_id" json:"nm_id"`
	ImtID      int64     `db:"imt_id" json:"imt_id"`
	VendorCode string    `db:"vendor_code" json:"vendor_code"`
	Title      string    `db:"title" json:"title"`
	Category   string    `db:"category_wb" json:"category_wb"`
}

// ProductFromCard maps the mutable attributes of a card onto a product row.
func ProductFromCard(card Card) Product {
	return Product{
		NmID:       card.NmID,
		ImtID:      card.ImtID,
		VendorCode: card.VendorCode,
		Title:      card.Title,
		Category:   card.Category,
	}
}

// ProductSize is a row of the product_sizes table.
type ProductSize struct {
	ID        uuid.UUID `db:"id" json:"id"`
	SerialNo  int64     `db:"serial_no" json:"serial_no"`
	ProductID uuid.UUID `db:"product_id" json:"product_id"`
	Barcode   string    `db:"barcode" json:"barcode"`
	Size      *string   `db:"size" json:"size"`
}

// UpsertResult describes what an identity-preserving upsert did to one row.
type UpsertResult struct {
	ID        uuid.UUID
	IsNew     bool
	IsChanged bool
}

func (r UpsertResult) Outcome() Outcome {
	switch {
	case r.IsNew:
		return OutcomeInserted
	case r.IsChanged:
		return OutcomeUpdated
	default:
		return OutcomeUnchanged
	}
}

type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
)
