package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
)

const (
	cardsPath = "/content/v2/get/cards/list"

	// CardsPageLimit is the largest page the content API serves.
	CardsPageLimit = 100
)

type cardsCursor struct {
	Limit     int    `json:"limit"`
	UpdatedAt string `json:"updatedAt,omitempty"`
	NmID      int64  `json:"nmID,omitempty"`
}

type cardsFilter struct {
	WithPhoto int `json:"withPhoto"`
}

type cardsSettings struct {
	Cursor cardsCursor `json:"cursor"`
	Filter cardsFilter `json:"filter"`
}

type cardsRequest struct {
	Settings cardsSettings `json:"settings"`
}

type cardsResponse struct {
	Cards  []json.RawMessage `json:"cards"`
	Cursor struct {
		UpdatedAt string `json:"updatedAt"`
		NmID      int64  `json:"nmID"`
		Total     int    `json:"total"`
	} `json:"cursor"`
}

// ContentCards pages through every product card. Cards are returned undecoded so
// that a malformed card is rejected on its own instead of failing the whole page.
func (c *Client) ContentCards(ctx context.Context) ([]json.RawMessage, error) {
	var all []json.RawMessage
	cursor := cardsCursor{Limit: CardsPageLimit}

	for page := 1; ; page++ {
		var resp cardsResponse
		err := c.do(ctx, request{
			limiter: c.contentLimiter,
			method:  http.MethodPost,
			url:     c.config.ContentBaseURL + cardsPath,
			body:    cardsRequest{Settings: cardsSettings{Cursor: cursor, Filter: cardsFilter{WithPhoto: -1}}},
			retry:   true,
		}, &resp)
		if err != nil {
			return nil, err
		}

		if len(resp.Cards) == 0 {
			break
		}
		all = append(all, resp.Cards...)

		c.logger.WithContext(ctx).WithFields(map[string]any{"page": page, "cards": len(resp.Cards), "total": resp.Cursor.Total}).Debug("Fetched content cards page")

		if resp.Cursor.Total < cursor.Limit {
			break
		}
		cursor.UpdatedAt = resp.Cursor.UpdatedAt
		cursor.NmID = resp.Cursor.NmID
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{"cards": len(all)}).Info("Fetched content cards")
	return all, nil
}
