package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ValidationResult splits a batch into accepted cards, rejections and warnings.
type ValidationResult struct {
	Accepted   []models.Card `json:"accepted"`
	Rejections []Rejection   `json:"rejections"`
	Warnings   []Warning     `json:"warnings"`
}

// Err returns a *ValidationError when any card was rejected.
func (r ValidationResult) Err() error {
	if len(r.Rejections) == 0 {
		return nil
	}
	return &ValidationError{Rejections: r.Rejections}
}

type Validator struct {
	validate *validator.Validate
	logger   ectologger.Logger
}

func NewValidator(logger ectologger.Logger) *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		validate: validate,
		logger:   logger,
	}
}

// DecodeAndValidate decodes each card on its own so one malformed card cannot sink the batch.
func (v *Validator) DecodeAndValidate(ctx context.Context, raws []json.RawMessage) ValidationResult {
	cards := make([]models.RawCard, 0, len(raws))
	indexes := make([]int, 0, len(raws))
	var decodeRejections []Rejection

	for i, raw := range raws {
		var card models.RawCard
		if err := json.Unmarshal(raw, &card); err != nil {
			decodeRejections = append(decodeRejections, Rejection{
				NmID:   peekNmID(raw),
				Index:  i,
				Field:  decodeErrorField(err),
				Reason: err.Error(),
			})
			continue
		}
		cards = append(cards, card)
		indexes = append(indexes, i)
	}

	result := v.validateBatch(ctx, cards, indexes)
	result.Rejections = append(decodeRejections, result.Rejections...)
	return result
}

// Validate checks mandatory fields and normalizes optional ones.
func (v *Validator) Validate(ctx context.Context, cards []models.RawCard) ValidationResult {
	indexes := make([]int, len(cards))
	for i := range cards {
		indexes[i] = i
	}
	return v.validateBatch(ctx, cards, indexes)
}

func (v *Validator) validateBatch(ctx context.Context, cards []models.RawCard, indexes []int) ValidationResult {
	ctx, span := tracing.StartSpan(ctx, "catalog.Validator.Validate")
	defer span.End()

	result := ValidationResult{}
	seenNmIDs := make(map[int64]struct{}, len(cards))
	seenBarcodes := make(map[string]int64)

	for i, raw := range cards {
		index := indexes[i]
		card := trimCard(raw)

		rejections := v.checkCard(card, index)
		if len(rejections) > 0 {
			for _, r := range rejections {
				v.logger.WithContext(ctx).WithFields(map[string]any{"nm_id": r.NmID, "index": r.Index, "field": r.Field}).Warnf("Rejected card: %s", r.Reason)
			}
			result.Rejections = append(result.Rejections, rejections...)
			continue
		}

		nmID := *card.NmID
		if _, dup := seenNmIDs[nmID]; dup {
			result.Warnings = append(result.Warnings, Warning{NmID: nmID, Field: "nmID", Message: fmt.Sprintf("duplicate card at index %d ignored", index)})
			continue
		}

		normalized := models.Card{
			NmID:       nmID,
			ImtID:      *card.ImtID,
			VendorCode: card.VendorCode,
			Title:      card.Title,
			Category:   card.SubjectName,
		}

		var (
			warnings []Warning
			claimed  []Rejection
			own      = make(map[string]struct{})
		)
		for j, size := range card.Sizes {
			label := ""
			if size.TechSize == nil {
				warnings = append(warnings, Warning{NmID: nmID, Field: fmt.Sprintf("sizes[%d].techSize", j), Message: "size label missing, defaulted to empty string"})
			} else {
				label = *size.TechSize
			}

			for _, barcode := range size.Skus {
				if owner, seen := seenBarcodes[barcode]; seen {
					claimed = append(claimed, Rejection{
						NmID:   nmID,
						Index:  index,
						Field:  fmt.Sprintf("sizes[%d].skus", j),
						Reason: fmt.Sprintf("barcode %s already listed by nm_id %d", barcode, owner),
					})
					continue
				}
				if _, dup := own[barcode]; dup {
					warnings = append(warnings, Warning{NmID: nmID, Field: fmt.Sprintf("sizes[%d].skus", j), Message: fmt.Sprintf("barcode %s listed twice, kept once", barcode)})
					continue
				}
				own[barcode] = struct{}{}
				normalized.Sizes = append(normalized.Sizes, models.CardSize{Barcode: barcode, Size: label})
			}
		}

		// a card is accepted with all of its variants or not at all
		if len(claimed) > 0 {
			for _, r := range claimed {
				v.logger.WithContext(ctx).WithFields(map[string]any{"nm_id": r.NmID, "index": r.Index, "field": r.Field}).Warnf("Rejected card: %s", r.Reason)
			}
			result.Rejections = append(result.Rejections, claimed...)
			continue
		}
		if len(normalized.Sizes) == 0 {
			r := Rejection{NmID: nmID, Index: index, Field: "sizes", Reason: "at least one barcode is required"}
			v.logger.WithContext(ctx).WithFields(map[string]any{"nm_id": r.NmID, "index": r.Index, "field": r.Field}).Warnf("Rejected card: %s", r.Reason)
			result.Rejections = append(result.Rejections, r)
			continue
		}

		seenNmIDs[nmID] = struct{}{}
		for barcode := range own {
			seenBarcodes[barcode] = nmID
		}
		result.Warnings = append(result.Warnings, warnings...)
		result.Accepted = append(result.Accepted, normalized)
	}

	for _, w := range result.Warnings {
		v.logger.WithContext(ctx).WithFields(map[string]any{"nm_id": w.NmID, "field": w.Field}).Warn(w.Message)
	}

	v.logger.WithContext(ctx).WithFields(map[string]any{
		"accepted":   len(result.Accepted),
		"rejections": len(result.Rejections),
		"warnings":   len(result.Warnings),
	}).Info("Validated catalog cards")

	return result
}

func (v *Validator) checkCard(card models.RawCard, index int) []Rejection {
	nmID := int64(0)
	if card.NmID != nil {
		nmID = *card.NmID
	}

	var rejections []Rejection
	if err := v.validate.Struct(card); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []Rejection{{NmID: nmID, Index: index, Field: "card", Reason: err.Error()}}
		}
		for _, fe := range verrs {
			rejections = append(rejections, Rejection{NmID: nmID, Index: index, Field: fe.Field(), Reason: describe(fe)})
		}
		return rejections
	}

	for j, size := range card.Sizes {
		if len(size.Skus) == 0 {
			rejections = append(rejections, Rejection{
				NmID:   nmID,
				Index:  index,
				Field:  fmt.Sprintf("sizes[%d].skus", j),
				Reason: "at least one non-empty barcode is required",
			})
		}
	}
	return rejections
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	default:
		return fmt.Sprintf("failed rule '%s'", fe.Tag())
	}
}

// trimCard trims text fields and drops blank barcodes.
func trimCard(card models.RawCard) models.RawCard {
	card.SubjectName = strings.TrimSpace(card.SubjectName)
	card.VendorCode = strings.TrimSpace(card.VendorCode)
	card.Title = strings.TrimSpace(card.Title)

	if card.Sizes == nil {
		return card
	}

	sizes := make([]models.RawSize, len(card.Sizes))
	for i, size := range card.Sizes {
		skus := make([]string, 0, len(size.Skus))
		for _, sku := range size.Skus {
			if sku = strings.TrimSpace(sku); sku != "" {
				skus = append(skus, sku)
			}
		}
		if size.TechSize != nil {
			label := strings.TrimSpace(*size.TechSize)
			size.TechSize = &label
		}
		sizes[i] = models.RawSize{TechSize: size.TechSize, Skus: skus}
	}
	card.Sizes = sizes
	return card
}

func peekNmID(raw json.RawMessage) int64 {
	var head struct {
		NmID json.Number `json:"nmID"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return 0
	}
	id, err := head.NmID.Int64()
	if err != nil {
		return 0
	}
	return id
}

func decodeErrorField(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return typeErr.Field
	}
	return "card"
}
