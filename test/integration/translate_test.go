package integration

import (
	"net/http"
	"testing"

	"github.com/ayushbridge/ayushbridge/internal/domain/mapping"
	"github.com/ayushbridge/ayushbridge/internal/platform/fhir"
)

func TestTranslate_SemanticMatch(t *testing.T) {
	a := newApp(t, appOptions{})
	a.seedCatalogs()

	rec := a.post("/api/v1/mapping", map[string]string{
		"code": "AAA-1", "system": "ayurveda",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp mapping.TranslateResponse
	decode(t, rec, &resp)
	if !resp.Success {
		t.Error("expected success")
	}
	if resp.Source != mapping.ResultSourceAI {
		t.Errorf("expected source %q, got %q", mapping.ResultSourceAI, resp.Source)
	}
	if resp.Mapping.Target == nil || resp.Mapping.Target.Code != "SK00.0" {
		t.Fatalf("expected target SK00.0, got %+v", resp.Mapping.Target)
	}
	if resp.Mapping.Equivalence != mapping.EquivalenceEquivalent {
		t.Errorf("expected EQUIVALENT, got %q", resp.Mapping.Equivalence)
	}
	if a.mappings.count() != 1 {
		t.Errorf("expected 1 persisted mapping, got %d", a.mappings.count())
	}
}

func TestTranslate_SecondCallServedFromCache(t *testing.T) {
	a := newApp(t, appOptions{})
	a.seedCatalogs()

	body := map[string]string{"code": "AAA-1", "system": "ayurveda"}
	if rec := a.post("/api/v1/mapping", body); rec.Code != http.StatusOK {
		t.Fatalf("first call: expected 200, got %d", rec.Code)
	}

	rec := a.post("/api/v1/mapping", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("second call: expected 200, got %d", rec.Code)
	}
	var resp mapping.TranslateResponse
	decode(t, rec, &resp)
	if resp.Source != mapping.ResultSourceCached {
		t.Errorf("expected cached result, got source %q", resp.Source)
	}
	if resp.Mapping.Target == nil || resp.Mapping.Target.Code != "SK00.0" {
		t.Errorf("cached result must carry the same target, got %+v", resp.Mapping.Target)
	}
}

func TestTranslate_AdjudicatedMatch(t *testing.T) {
	a := newApp(t, appOptions{})
	a.seedCatalogs()

	rec := a.post("/api/v1/mapping", map[string]string{
		"code": "UUU-3", "system": "unani",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp mapping.TranslateResponse
	decode(t, rec, &resp)
	if resp.Mapping.Target == nil || resp.Mapping.Target.Code != "SP90" {
		t.Fatalf("expected adjudicated target SP90, got %+v", resp.Mapping.Target)
	}
	if resp.Mapping.Confidence != 0.92 {
		t.Errorf("expected adjudicator confidence 0.92, got %f", resp.Mapping.Confidence)
	}
	if resp.Mapping.Reasoning != "clinically equivalent presentation" {
		t.Errorf("unexpected reasoning %q", resp.Mapping.Reasoning)
	}
}

func TestTranslate_Unmatched(t *testing.T) {
	a := newApp(t, appOptions{})
	a.seedCatalogs()
	a.sources.add(sourceWithNoOverlap())

	rec := a.post("/api/v1/mapping", map[string]string{
		"code": "ZZZ-9", "system": "ayurveda",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp mapping.TranslateResponse
	decode(t, rec, &resp)
	if resp.Mapping.Target != nil {
		t.Errorf("expected no target, got %+v", resp.Mapping.Target)
	}
	if resp.Mapping.Equivalence != mapping.EquivalenceUnmatched {
		t.Errorf("expected UNMATCHED, got %q", resp.Mapping.Equivalence)
	}
	// Unmatched results are never persisted.
	if a.mappings.count() != 0 {
		t.Errorf("expected no persisted mapping, got %d", a.mappings.count())
	}
}

func TestTranslate_UnknownCode(t *testing.T) {
	a := newApp(t, appOptions{})
	a.seedCatalogs()

	rec := a.post("/api/v1/mapping", map[string]string{
		"code": "NOPE-1", "system": "ayurveda",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, rec, &resp)
	if resp.Success {
		t.Error("error envelope must report success=false")
	}
	if resp.Error.Code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND label, got %q", resp.Error.Code)
	}
}

func TestTranslate_InvalidSystem(t *testing.T) {
	a := newApp(t, appOptions{})
	a.seedCatalogs()

	rec := a.post("/api/v1/mapping", map[string]string{
		"code": "AAA-1", "system": "homeopathy",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestFHIRTranslate_SharesCacheWithREST(t *testing.T) {
	a := newApp(t, appOptions{})
	a.seedCatalogs()

	params := fhir.NewParameters().
		AddCode("code", "AAA-1").
		AddURI("system", "https://namaste.ayush.gov.in/fhir/CodeSystem/namaste-ayurveda")
	rec := a.post("/fhir/ConceptMap/$translate", params)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var out fhir.Parameters
	decode(t, rec, &out)
	result := out.Find("result")
	if result == nil || result.ValueBoolean == nil || !*result.ValueBoolean {
		t.Fatal("expected result=true")
	}
	match := out.Find("match")
	if match == nil {
		t.Fatal("expected a match parameter")
	}
	var concept *fhir.Coding
	for _, part := range match.Part {
		if part.Name == "concept" {
			concept = part.ValueCoding
		}
	}
	if concept == nil || concept.Code != "SK00.0" {
		t.Fatalf("expected concept SK00.0, got %+v", concept)
	}

	// The REST endpoint now hits the shared mappings cache.
	restRec := a.post("/api/v1/mapping", map[string]string{"code": "AAA-1", "system": "ayurveda"})
	var restResp mapping.TranslateResponse
	decode(t, restRec, &restResp)
	if restResp.Source != mapping.ResultSourceCached {
		t.Errorf("expected REST call to be served from cache, got %q", restResp.Source)
	}
}

func TestFHIRTranslate_UnknownCodeReturnsOperationOutcome(t *testing.T) {
	a := newApp(t, appOptions{})
	a.seedCatalogs()

	params := fhir.NewParameters().
		AddCode("code", "NOPE-1").
		AddCode("system", "ayurveda")
	rec := a.post("/fhir/ConceptMap/$translate", params)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var out struct {
		ResourceType string `json:"resourceType"`
	}
	decode(t, rec, &out)
	if out.ResourceType != "OperationOutcome" {
		t.Errorf("expected OperationOutcome, got %q", out.ResourceType)
	}
}

func TestMappingListAndStats(t *testing.T) {
	a := newApp(t, appOptions{})
	a.seedCatalogs()

	for _, req := range []map[string]string{
		{"code": "AAA-1", "system": "ayurveda"},
		{"code": "SSS-7", "system": "siddha"},
	} {
		if rec := a.post("/api/v1/mapping", req); rec.Code != http.StatusOK {
			t.Fatalf("translate %v: got %d", req, rec.Code)
		}
	}

	rec := a.get("/api/v1/mapping")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var list struct {
		Success bool `json:"success"`
		Total   int  `json:"total"`
	}
	decode(t, rec, &list)
	if list.Total != 2 {
		t.Errorf("expected 2 mappings, got %d", list.Total)
	}

	rec = a.get("/api/v1/mapping/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rec.Code)
	}
	var stats struct {
		Stats mapping.Stats `json:"stats"`
	}
	decode(t, rec, &stats)
	if stats.Stats.Total != 2 {
		t.Errorf("expected total 2, got %d", stats.Stats.Total)
	}
	if stats.Stats.ByMappingSource[mapping.SourceAIValidated] != 2 {
		t.Errorf("expected 2 AI_VALIDATED rows, got %+v", stats.Stats.ByMappingSource)
	}
}
