// Package catalog enumerates in-stock products from the paginated catalog API
// and resolves city and category names to API identifiers.
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Product is one catalog item. Price fields stay 0 until the combine stage
// merges a matching price record; a product with no price is still part of
// the result.
type Product struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Link         string `json:"link"`
	RegularPrice int64  `json:"regular_price"`
	PromoPrice   int64  `json:"promo_price"`
	Brand        string `json:"brand"`
}

// apiID tolerates the API serializing identifiers as either strings or
// numbers, which it does inconsistently across endpoints.
type apiID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *apiID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = apiID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier is neither string nor number: %s", trimmed)
	}
	*id = apiID(n.String())
	return nil
}

// productListResponse is the paginated product list envelope.
type productListResponse struct {
	Data productListData `json:"data"`
}

type productListData struct {
	Goods      []goodsItem `json:"goods"`
	TotalPages int         `json:"total_pages"`
	TotalItems int         `json:"total_items"`
}

// goodsItem is one raw catalog entry before availability filtering.
type goodsItem struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Webpage     string `json:"webpage"`
	BrandName   string `json:"brand_name"`
	IsAvailable bool   `json:"isAvailable"`
}

// cityListResponse is the city directory envelope.
type cityListResponse struct {
	Data struct {
		Cities []cityNode `json:"cities"`
	} `json:"data"`
}

type cityNode struct {
	ID    apiID  `json:"id"`
	Title string `json:"title"`
}

// categoriesResponse is the category tree envelope.
type categoriesResponse struct {
	Data struct {
		Categories []CategoryNode `json:"categories"`
	} `json:"data"`
}

// CategoryNode is one node of the category tree.
type CategoryNode struct {
	ID       apiID          `json:"id"`
	Title    string         `json:"title"`
	HasChild bool           `json:"has_child"`
	Child    []CategoryNode `json:"child"`
}
