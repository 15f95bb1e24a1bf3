package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/Sternrassler/catalog-harvester/internal/testutil"
)

func TestResolveCity(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	api.SetCities(map[string]string{
		"0000073738": "Москва",
		"0000103664": "Санкт-Петербург",
	})

	fetcher := newTestFetcher(api.URL())

	tests := []struct {
		name    string
		city    string
		wantID  string
		wantErr error
	}{
		{"exact match", "Москва", "0000073738", nil},
		{"case insensitive", "москва", "0000073738", nil},
		{"second city", "санкт-петербург", "0000103664", nil},
		{"unknown city", "Atlantis", "", ErrCityNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := fetcher.ResolveCity(context.Background(), tt.city)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveCity() error = %v", err)
			}
			if id != tt.wantID {
				t.Errorf("id = %q, want %q", id, tt.wantID)
			}
		})
	}
}

func TestResolveCategory_NestedTree(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	api.SetCategories([]map[string]any{
		{
			"id": 10, "title": "Собаки", "has_child": true,
			"child": []map[string]any{
				{"id": 11, "title": "Сухой корм", "has_child": false},
				{
					"id": 12, "title": "Лакомства", "has_child": true,
					"child": []map[string]any{
						{"id": 13, "title": "Печенье", "has_child": false},
					},
				},
			},
		},
		{"id": 20, "title": "Кошки", "has_child": false},
	})

	fetcher := newTestFetcher(api.URL())
	ctx := context.Background()

	tests := []struct {
		name     string
		category string
		wantID   string
	}{
		{"top level", "Собаки", "10"},
		{"one level deep", "сухой корм", "11"},
		{"two levels deep", "Печенье", "13"},
		{"sibling root", "кошки", "20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := fetcher.ResolveCategory(ctx, tt.category, "0000073738")
			if err != nil {
				t.Fatalf("ResolveCategory() error = %v", err)
			}
			if id != tt.wantID {
				t.Errorf("id = %q, want %q", id, tt.wantID)
			}
		})
	}

	t.Run("not found", func(t *testing.T) {
		_, err := fetcher.ResolveCategory(ctx, "Аквариумы", "0000073738")
		if !errors.Is(err, ErrCategoryNotFound) {
			t.Errorf("err = %v, want ErrCategoryNotFound", err)
		}
	})
}

func TestFindCategory_DepthFirst(t *testing.T) {
	tree := []CategoryNode{
		{
			ID: "1", Title: "A", HasChild: true,
			Child: []CategoryNode{
				{ID: "2", Title: "Target", HasChild: false},
			},
		},
		{ID: "3", Title: "Target", HasChild: false},
	}

	// The nested match is found first: depth-first traversal.
	id, found := findCategory(tree, "target")
	if !found {
		t.Fatal("findCategory() found = false, want true")
	}
	if id != "2" {
		t.Errorf("id = %q, want %q (depth-first)", id, "2")
	}
}

func TestAPIID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  apiID
		fails bool
	}{
		{"string id", `"0000073738"`, "0000073738", false},
		{"numeric id", `42`, "42", false},
		{"null id", `null`, "", false},
		{"object id", `{}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id apiID
			err := id.UnmarshalJSON([]byte(tt.input))
			if tt.fails {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("UnmarshalJSON(%s) error = %v", tt.input, err)
			}
			if id != tt.want {
				t.Errorf("id = %q, want %q", id, tt.want)
			}
		})
	}
}
