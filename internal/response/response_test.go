package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestPagination(t *testing.T) {
	tests := []struct {
		name                 string
		page, perPage, total int
		wantStart, wantEnd   int
		wantPages            int
	}{
		{name: "first page", page: 1, perPage: 50, total: 120, wantStart: 0, wantEnd: 50, wantPages: 3},
		{name: "last partial page", page: 3, perPage: 50, total: 120, wantStart: 100, wantEnd: 120, wantPages: 3},
		{name: "past the end", page: 9, perPage: 50, total: 120, wantStart: 120, wantEnd: 120, wantPages: 3},
		{name: "empty list", page: 1, perPage: 50, total: 0, wantStart: 0, wantEnd: 0, wantPages: 0},
		{name: "page clamped", page: 0, perPage: 10, total: 5, wantStart: 0, wantEnd: 5, wantPages: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPagination(tt.page, tt.perPage, tt.total)
			start, end := p.Bounds()
			if start != tt.wantStart || end != tt.wantEnd {
				t.Errorf("bounds = [%d,%d), want [%d,%d)", start, end, tt.wantStart, tt.wantEnd)
			}
			if p.TotalPages != tt.wantPages {
				t.Errorf("pages = %d, want %d", p.TotalPages, tt.wantPages)
			}
		})
	}
}

func TestPageQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		query       string
		wantPage    int
		wantPerPage int
	}{
		{"", 1, 50},
		{"?page=3&per_page=20", 3, 20},
		{"?page=-1&per_page=1000", 1, 50},
		{"?page=abc&per_page=x", 1, 50},
	}

	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/attempts"+tt.query, nil)

		page, perPage := PageQuery(c, 50, 200)
		if page != tt.wantPage || perPage != tt.wantPerPage {
			t.Errorf("%q: got (%d,%d), want (%d,%d)", tt.query, page, perPage, tt.wantPage, tt.wantPerPage)
		}
	}
}

func TestEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		send     func(c *gin.Context)
		wantKeys []string
	}{
		{
			name:     "success",
			send:     func(c *gin.Context) { Success(c, http.StatusOK, map[string]int{"count": 2}) },
			wantKeys: []string{"data", "metadata"},
		},
		{
			name:     "paginated",
			send:     func(c *gin.Context) { SuccessWithPagination(c, http.StatusOK, []int{1}, NewPagination(1, 10, 1)) },
			wantKeys: []string{"data", "metadata", "pagination"},
		},
		{
			name:     "failure",
			send:     func(c *gin.Context) { Fail(c, http.StatusNotFound, ErrNotFound) },
			wantKeys: []string{"data", "error", "metadata"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			tt.send(c)

			var body map[string]json.RawMessage
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(body) != len(tt.wantKeys) {
				t.Errorf("keys = %v, want %v", body, tt.wantKeys)
			}
			for _, k := range tt.wantKeys {
				if _, ok := body[k]; !ok {
					t.Errorf("missing %q in %s", k, w.Body.String())
				}
			}
		})
	}
}
