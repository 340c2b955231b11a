package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/models"
)

func ptr[T any](v T) *T {
	return &v
}

func validCard(nmID int64) models.RawCard {
	return models.RawCard{
		NmID:        ptr(nmID),
		ImtID:       ptr(int64(9000)),
		SubjectName: "Dresses",
		VendorCode:  "VC-" + string(rune('A'+nmID%26)),
		Title:       "Summer dress",
		Sizes: []models.RawSize{
			{TechSize: ptr("42"), Skus: []string{"2000000000011"}},
		},
	}
}

func TestValidator_MandatoryFields(t *testing.T) {
	v := NewValidator(logging.NewTestLogger())

	tests := []struct {
		name   string
		mutate func(c *models.RawCard)
		field  string
	}{
		{name: "missing nmID", mutate: func(c *models.RawCard) { c.NmID = nil }, field: "nmID"},
		{name: "zero nmID", mutate: func(c *models.RawCard) { c.NmID = ptr(int64(0)) }, field: "nmID"},
		{name: "missing imtID", mutate: func(c *models.RawCard) { c.ImtID = nil }, field: "imtID"},
		{name: "missing category", mutate: func(c *models.RawCard) { c.SubjectName = "" }, field: "subjectName"},
		{name: "blank vendor code", mutate: func(c *models.RawCard) { c.VendorCode = "   " }, field: "vendorCode"},
		{name: "missing title", mutate: func(c *models.RawCard) { c.Title = "" }, field: "title"},
		{name: "nil sizes", mutate: func(c *models.RawCard) { c.Sizes = nil }, field: "sizes"},
		{name: "empty sizes", mutate: func(c *models.RawCard) { c.Sizes = []models.RawSize{} }, field: "sizes"},
		{name: "size without barcodes", mutate: func(c *models.RawCard) { c.Sizes[0].Skus = nil }, field: "sizes[0].skus"},
		{name: "size with only blank barcodes", mutate: func(c *models.RawCard) { c.Sizes[0].Skus = []string{" ", ""} }, field: "sizes[0].skus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := validCard(100)
			tt.mutate(&card)

			result := v.Validate(context.Background(), []models.RawCard{card, validCard(200)})

			require.Len(t, result.Rejections, 1)
			assert.Equal(t, tt.field, result.Rejections[0].Field)
			assert.Equal(t, 0, result.Rejections[0].Index)
			require.Len(t, result.Accepted, 1)
			assert.Equal(t, int64(200), result.Accepted[0].NmID)

			var verr *ValidationError
			require.True(t, errors.As(result.Err(), &verr))
			assert.Len(t, verr.Rejections, 1)
		})
	}
}

func TestValidator_RejectsWholeEntityWhenOneSizeIsInvalid(t *testing.T) {
	v := NewValidator(logging.NewTestLogger())

	card := validCard(100)
	card.Sizes = append(card.Sizes, models.RawSize{TechSize: ptr("44"), Skus: []string{}})

	result := v.Validate(context.Background(), []models.RawCard{card})

	assert.Empty(t, result.Accepted)
	require.Len(t, result.Rejections, 1)
	assert.Equal(t, int64(100), result.Rejections[0].NmID)
	assert.Equal(t, "sizes[1].skus", result.Rejections[0].Field)
}

func TestValidator_MissingSizeLabelIsAWarning(t *testing.T) {
	v := NewValidator(logging.NewTestLogger())

	card := validCard(100)
	card.Sizes[0].TechSize = nil

	result := v.Validate(context.Background(), []models.RawCard{card})

	require.NoError(t, result.Err())
	require.Len(t, result.Accepted, 1)
	require.Len(t, result.Accepted[0].Sizes, 1)
	assert.Equal(t, "", result.Accepted[0].Sizes[0].Size)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "sizes[0].techSize", result.Warnings[0].Field)
}

func TestValidator_Normalization(t *testing.T) {
	v := NewValidator(logging.NewTestLogger())

	t.Run("trims text and barcodes", func(t *testing.T) {
		card := validCard(100)
		card.Title = "  Summer dress "
		card.Sizes[0].Skus = []string{" 2000000000011 ", "", "2000000000028"}

		result := v.Validate(context.Background(), []models.RawCard{card})

		require.Len(t, result.Accepted, 1)
		assert.Equal(t, "Summer dress", result.Accepted[0].Title)
		assert.Equal(t, []models.CardSize{
			{Barcode: "2000000000011", Size: "42"},
			{Barcode: "2000000000028", Size: "42"},
		}, result.Accepted[0].Sizes)
	})

	t.Run("first duplicate nm_id wins", func(t *testing.T) {
		first := validCard(100)
		second := validCard(100)
		second.Title = "Other title"
		second.Sizes[0].Skus = []string{"2000000000099"}

		result := v.Validate(context.Background(), []models.RawCard{first, second})

		require.Len(t, result.Accepted, 1)
		assert.Equal(t, "Summer dress", result.Accepted[0].Title)
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "nmID", result.Warnings[0].Field)
	})

	t.Run("barcode claimed by an earlier card rejects the later card", func(t *testing.T) {
		first := validCard(100)
		second := validCard(200)

		result := v.Validate(context.Background(), []models.RawCard{first, second})

		require.Len(t, result.Accepted, 1)
		assert.Equal(t, int64(100), result.Accepted[0].NmID)
		assert.Len(t, result.Accepted[0].Sizes, 1)
		require.Len(t, result.Rejections, 1)
		assert.Equal(t, int64(200), result.Rejections[0].NmID)
		assert.Equal(t, 1, result.Rejections[0].Index)
		assert.Equal(t, "sizes[0].skus", result.Rejections[0].Field)
		assert.Contains(t, result.Rejections[0].Reason, "nm_id 100")
		assert.Error(t, result.Err())
	})

	t.Run("card is not partially accepted when one of its barcodes is claimed", func(t *testing.T) {
		first := validCard(100)
		second := validCard(200)
		second.Sizes = []models.RawSize{
			{TechSize: ptr("44"), Skus: []string{"2000000000099"}},
			{TechSize: ptr("42"), Skus: []string{"2000000000011"}},
		}
		third := validCard(300)
		third.Sizes[0].Skus = []string{"2000000000099"}

		result := v.Validate(context.Background(), []models.RawCard{first, second, third})

		require.Len(t, result.Accepted, 2)
		assert.Equal(t, int64(100), result.Accepted[0].NmID)
		assert.Equal(t, int64(300), result.Accepted[1].NmID, "barcodes of a rejected card stay unclaimed")
		require.Len(t, result.Rejections, 1)
		assert.Equal(t, int64(200), result.Rejections[0].NmID)
		assert.Equal(t, "sizes[1].skus", result.Rejections[0].Field)
	})

	t.Run("barcode listed twice within one card is kept once", func(t *testing.T) {
		card := validCard(100)
		card.Sizes = append(card.Sizes, models.RawSize{TechSize: ptr("44"), Skus: []string{"2000000000011"}})

		result := v.Validate(context.Background(), []models.RawCard{card})

		require.Len(t, result.Accepted, 1)
		assert.Equal(t, []models.CardSize{{Barcode: "2000000000011", Size: "42"}}, result.Accepted[0].Sizes)
		assert.Empty(t, result.Rejections)
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "sizes[1].skus", result.Warnings[0].Field)
	})
}

func TestValidator_DecodeAndValidate(t *testing.T) {
	v := NewValidator(logging.NewTestLogger())

	raws := []json.RawMessage{
		json.RawMessage(`{"nmID": 100, "imtID": 9000, "subjectName": "Dresses", "vendorCode": "VC-1", "title": "Dress", "sizes": [{"techSize": "42", "skus": ["2000000000011"]}]}`),
		json.RawMessage(`{"nmID": "not-a-number", "imtID": 9000, "subjectName": "Dresses", "vendorCode": "VC-2", "title": "Dress", "sizes": [{"skus": ["2000000000028"]}]}`),
		json.RawMessage(`{"nmID": 300, "imtID": 9000, "subjectName": "Dresses", "vendorCode": "VC-3", "sizes": [{"skus": ["2000000000035"]}]}`),
	}

	result := v.DecodeAndValidate(context.Background(), raws)

	require.Len(t, result.Accepted, 1)
	assert.Equal(t, int64(100), result.Accepted[0].NmID)
	require.Len(t, result.Rejections, 2)
	assert.Equal(t, 1, result.Rejections[0].Index)
	assert.Equal(t, "nmID", result.Rejections[0].Field)
	assert.Equal(t, 2, result.Rejections[1].Index)
	assert.Equal(t, int64(300), result.Rejections[1].NmID)
	assert.Equal(t, "title", result.Rejections[1].Field)
	assert.Contains(t, result.Err().Error(), "nm_id=300 field=title")
}
