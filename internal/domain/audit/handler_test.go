package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func seededRepo() *mockRepo {
	repo := &mockRepo{}
	repo.records = []*Record{
		{Actor: "tester", Action: "translate", ResourceType: "mapping", StatusCode: 200, Outcome: "success"},
		{Actor: "tester", Action: "lookup", ResourceType: "CodeSystem", StatusCode: 200, Outcome: "success"},
		{Actor: "intruder", Action: "translate", ResourceType: "mapping", StatusCode: 429, Outcome: "failure"},
	}
	return repo
}

func TestAuditHandler_List(t *testing.T) {
	h := NewHandler(seededRepo())
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/admin/audit?action=translate", nil)
	rec := httptest.NewRecorder()
	if err := h.List(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Success bool      `json:"success"`
		Total   int       `json:"total"`
		Records []*Record `json:"records"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Success || resp.Total != 2 || len(resp.Records) != 2 {
		t.Errorf("unexpected response: %+v", resp)
	}
	for _, r := range resp.Records {
		if r.Action != "translate" {
			t.Errorf("filter leaked record: %+v", r)
		}
	}
}

func TestAuditHandler_List_Empty(t *testing.T) {
	h := NewHandler(&mockRepo{})
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	rec := httptest.NewRecorder()
	if err := h.List(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Records []*Record `json:"records"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Records == nil {
		t.Error("records must serialize as an empty array, not null")
	}
}

func TestAuditHandler_List_BadTimestamp(t *testing.T) {
	h := NewHandler(seededRepo())
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/admin/audit?since=yesterday", nil)
	err := h.List(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
