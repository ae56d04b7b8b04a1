package httputil

import (
	"net/http/httptest"
	"testing"
)

func TestParsePage(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantPage int
		wantSize int
	}{
		{"defaults", "", 1, 20},
		{"explicit", "page=3&page_size=50", 3, 50},
		{"zero page clamped", "page=0", 1, 20},
		{"negative page clamped", "page=-2", 1, 20},
		{"size clamped to max", "page_size=99999", 1, 1000},
		{"zero size falls back", "page_size=0", 1, 20},
		{"garbage falls back", "page=abc&page_size=xyz", 1, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/v1/resources?"+tt.query, nil)
			p := ParsePage(r, 20, 1000)
			if p.Number != tt.wantPage || p.Size != tt.wantSize {
				t.Errorf("ParsePage(%q) = {%d %d}, want {%d %d}",
					tt.query, p.Number, p.Size, tt.wantPage, tt.wantSize)
			}
		})
	}
}

func TestPageOffset(t *testing.T) {
	cases := []struct {
		page   Page
		offset int
	}{
		{Page{Number: 1, Size: 20}, 0},
		{Page{Number: 2, Size: 20}, 20},
		{Page{Number: 5, Size: 50}, 200},
	}
	for _, c := range cases {
		if got := c.page.Offset(); got != c.offset {
			t.Errorf("Page{%d,%d}.Offset() = %d, want %d", c.page.Number, c.page.Size, got, c.offset)
		}
	}
}
