package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/catalog-harvester/pkg/client"
)

// Resolution errors.
var (
	// ErrCityNotFound is returned when no city matches the requested name.
	ErrCityNotFound = errors.New("city not found")

	// ErrCategoryNotFound is returned when no category matches the requested
	// name anywhere in the tree.
	ErrCategoryNotFound = errors.New("category not found")
)

// ResolveCity looks up a city identifier by name, case-insensitively.
func (f *Fetcher) ResolveCity(ctx context.Context, cityName string) (string, error) {
	token, err := f.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve city: %w", err)
	}

	params := map[string]string{"token": token}
	params["sign"] = f.signer.Sign(params)

	res := f.api.Request(ctx, client.Spec{
		URL:     f.config.BaseURL + "/city_list_users/",
		Params:  params,
		Headers: f.config.Headers,
	})

	var parsed cityListResponse
	if err := client.DecodeJSON(res, "/city_list_users/", &parsed); err != nil {
		return "", fmt.Errorf("resolve city: %w", err)
	}

	for _, city := range parsed.Data.Cities {
		if strings.EqualFold(city.Title, cityName) {
			return string(city.ID), nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrCityNotFound, cityName)
}

// ResolveCategory looks up a category identifier by name within a city's
// category tree, case-insensitively, searching nested subcategories.
func (f *Fetcher) ResolveCategory(ctx context.Context, categoryName, cityID string) (string, error) {
	token, err := f.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve category: %w", err)
	}

	params := map[string]string{"token": token}
	params["sign"] = f.signer.Sign(params)

	res := f.api.Request(ctx, client.Spec{
		URL:     f.config.BaseURL + "/categories/",
		Params:  params,
		Headers: withCity(f.config.Headers, cityID),
	})

	var parsed categoriesResponse
	if err := client.DecodeJSON(res, "/categories/", &parsed); err != nil {
		return "", fmt.Errorf("resolve category: %w", err)
	}

	if id, found := findCategory(parsed.Data.Categories, categoryName); found {
		f.logger.Info().
			Str("category", categoryName).
			Str("category_id", id).
			Msg("Category resolved")
		return id, nil
	}

	f.logger.Warn().Str("category", categoryName).Msg("Category not found in tree")
	return "", fmt.Errorf("%w: %q", ErrCategoryNotFound, categoryName)
}

// findCategory searches the category tree depth-first.
func findCategory(nodes []CategoryNode, name string) (string, bool) {
	for _, node := range nodes {
		if strings.EqualFold(node.Title, name) {
			return string(node.ID), true
		}
		if node.HasChild && len(node.Child) > 0 {
			if id, found := findCategory(node.Child, name); found {
				return id, true
			}
		}
	}
	return "", false
}
