package patient

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/healthqueue/healthqueue/pkg/pagination"
)

func newTestHandler() (*Handler, *mockRepo, *echo.Echo) {
	repo := newMockRepo()
	return NewHandler(NewService(repo)), repo, echo.New()
}

func TestHandler_GetPatient(t *testing.T) {
	h, repo, e := newTestHandler()
	p := repo.add("Ana", "Reyes")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	if err := h.GetPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var got Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != p.ID || got.LastName != "Reyes" {
		t.Errorf("unexpected patient %+v", got)
	}
}

func TestHandler_GetPatient_Errors(t *testing.T) {
	h, _, e := newTestHandler()

	tests := []struct {
		id   string
		want int
	}{
		{"not-a-uuid", http.StatusBadRequest},
		{"0b7e2f5c-6a1d-4c4e-9b43-1f8e7f0a2d11", http.StatusNotFound},
	}
	for _, tt := range tests {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		c.SetParamNames("id")
		c.SetParamValues(tt.id)

		err := h.GetPatient(c)
		var he *echo.HTTPError
		if !errors.As(err, &he) || he.Code != tt.want {
			t.Errorf("id %s: expected %d, got %v", tt.id, tt.want, err)
		}
	}
}

func TestHandler_SearchPatients(t *testing.T) {
	h, repo, e := newTestHandler()
	repo.add("Ana", "Reyes")
	repo.add("Ben", "Okafor")
	repo.add("Anabel", "Lim")

	req := httptest.NewRequest(http.MethodGet, "/?name=ana&limit=1", nil)
	rec := httptest.NewRecorder()
	if err := h.SearchPatients(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp pagination.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 || resp.Limit != 1 || !resp.HasMore {
		t.Errorf("unexpected envelope %+v", resp)
	}
	if items, ok := resp.Data.([]interface{}); !ok || len(items) != 1 {
		t.Errorf("expected one item, got %v", resp.Data)
	}
}

func TestHandler_SearchPatients_EmptyIsArray(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	if err := h.SearchPatients(e.NewContext(httptest.NewRequest(http.MethodGet, "/?name=zed", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data []Patient `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data == nil {
		t.Error("expected empty array, got null")
	}
}
