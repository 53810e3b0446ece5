package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"course-survey-service/internal/app"
	"course-survey-service/internal/domain"
	"course-survey-service/internal/infra/memory"
)

const (
	testAdminUser = "admin"
	testAdminPass = "secret"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	store := memory.NewStore()
	service := app.NewSurveyService(store)
	handler := NewHandler(service, store, Options{
		AdminUsername:         testAdminUser,
		AdminPassword:         testAdminPass,
		BaseURL:               "http://notes.example",
		SubmissionWindowHours: 24,
	})
	mux := http.NewServeMux()
	handler.Register(mux)
	return mux
}

func sampleDocument() domain.SurveyDocument {
	return domain.SurveyDocument{
		Title: domain.Localized{ZH: "课程反馈", JA: "コース調査"},
		Questions: []domain.Question{
			{
				ID:      "q1",
				Type:    domain.QuestionTypeSingleChoice,
				Content: domain.Localized{ZH: "问题一", JA: "質問一"},
				Options: []domain.Option{
					{ID: "a", Text: domain.Localized{ZH: "甲", JA: "ア"}},
					{ID: "b", Text: domain.Localized{ZH: "乙", JA: "イ"}},
				},
				CorrectOption: "b",
				Explanation:   domain.Localized{ZH: "解析", JA: "解説"},
			},
		},
	}
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path string, body any, authed bool, client string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.SetBasicAuth(testAdminUser, testAdminPass)
	}
	if client != "" {
		req.Header.Set("X-Forwarded-For", client)
		req.Header.Set("User-Agent", "test-agent")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func uploadAndPublish(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	rec := doRequest(t, mux, "POST", "/api/admin/surveys", sampleDocument(), true, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: status %d: %s", rec.Code, rec.Body.String())
	}
	id, _ := decodeBody(t, rec)["id"].(string)
	if id == "" {
		t.Fatalf("expected survey id in response")
	}

	rec = doRequest(t, mux, "PATCH", "/api/admin/surveys/"+id, map[string]any{"is_published": true}, true, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("publish: status %d: %s", rec.Code, rec.Body.String())
	}
	return id
}

func TestAdminEndpointsRequireAuth(t *testing.T) {
	mux := newTestMux(t)

	rec := doRequest(t, mux, "GET", "/api/admin/surveys", nil, false, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected auth challenge header")
	}

	rec = doRequest(t, mux, "POST", "/api/admin/surveys", sampleDocument(), false, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on upload, got %d", rec.Code)
	}
}

func TestUploadRejectsInvalidDocument(t *testing.T) {
	mux := newTestMux(t)

	doc := sampleDocument()
	doc.Questions[0].CorrectOption = "z"
	rec := doRequest(t, mux, "POST", "/api/admin/surveys", doc, true, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "correct_option") {
		t.Fatalf("expected the offending field in the error: %s", rec.Body.String())
	}
}

func TestPublicListShowsOnlyPublished(t *testing.T) {
	mux := newTestMux(t)

	rec := doRequest(t, mux, "POST", "/api/admin/surveys", sampleDocument(), true, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: %d", rec.Code)
	}

	rec = doRequest(t, mux, "GET", "/api/surveys", nil, false, "")
	var listed []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("unpublished survey must not be listed")
	}

	uploadAndPublish(t, mux)
	rec = doRequest(t, mux, "GET", "/api/surveys", nil, false, "")
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one listed survey, got %d", len(listed))
	}
}

func TestPublicGetStripsAnswerKey(t *testing.T) {
	mux := newTestMux(t)
	id := uploadAndPublish(t, mux)

	rec := doRequest(t, mux, "GET", "/api/surveys/"+id, nil, false, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "correct_option") || strings.Contains(body, "explanation") {
		t.Fatalf("public payload leaks the answer key: %s", body)
	}
}

func TestGetUnpublishedSurveyForbidden(t *testing.T) {
	mux := newTestMux(t)

	rec := doRequest(t, mux, "POST", "/api/admin/surveys", sampleDocument(), true, "")
	id, _ := decodeBody(t, rec)["id"].(string)

	rec = doRequest(t, mux, "GET", "/api/surveys/"+id, nil, false, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = doRequest(t, mux, "GET", "/api/surveys/missing", nil, false, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSubmitFlow(t *testing.T) {
	mux := newTestMux(t)
	id := uploadAndPublish(t, mux)

	submit := map[string]any{"answers": map[string]string{"q1": "b"}, "language": "zh"}
	rec := doRequest(t, mux, "POST", "/api/surveys/"+id+"/submit", submit, false, "203.0.113.7")
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["score"].(float64) != 1 || body["percentage"].(float64) != 100 {
		t.Fatalf("unexpected scoring: %v", body)
	}
	if strings.HasPrefix(body["submissionId"].(string), "temp-") {
		t.Fatalf("first submission must be stored")
	}
	questions, _ := body["questions"].([]any)
	if len(questions) != 1 {
		t.Fatalf("expected the full question echoed back")
	}
	first := questions[0].(map[string]any)
	if first["userAnswer"] != "b" || first["isCorrect"] != true {
		t.Fatalf("expected annotated answer, got %v", first)
	}

	// Same client again: scored but synthetic id.
	rec = doRequest(t, mux, "POST", "/api/surveys/"+id+"/submit", submit, false, "203.0.113.7")
	body = decodeBody(t, rec)
	if !strings.HasPrefix(body["submissionId"].(string), "temp-") {
		t.Fatalf("repeat must get a synthetic id, got %v", body["submissionId"])
	}

	// A different client counts separately.
	rec = doRequest(t, mux, "POST", "/api/surveys/"+id+"/submit", submit, false, "203.0.113.8")
	body = decodeBody(t, rec)
	if strings.HasPrefix(body["submissionId"].(string), "temp-") {
		t.Fatalf("different client must be stored")
	}

	rec = doRequest(t, mux, "GET", "/api/admin/surveys/"+id+"/stats", nil, true, "")
	stats := decodeBody(t, rec)["stats"].(map[string]any)
	if stats["total"].(float64) != 2 {
		t.Fatalf("expected 2 counted submissions, got %v", stats["total"])
	}
}

func TestSubmitValidation(t *testing.T) {
	mux := newTestMux(t)
	id := uploadAndPublish(t, mux)

	rec := doRequest(t, mux, "POST", "/api/surveys/"+id+"/submit", map[string]any{"language": "zh"}, false, "203.0.113.7")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing answers: expected 400, got %d", rec.Code)
	}

	rec = doRequest(t, mux, "POST", "/api/surveys/"+id+"/submit",
		map[string]any{"answers": map[string]string{}, "language": "en"}, false, "203.0.113.7")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad language: expected 400, got %d", rec.Code)
	}
}

func TestCheckSubmission(t *testing.T) {
	mux := newTestMux(t)
	id := uploadAndPublish(t, mux)

	rec := doRequest(t, mux, "GET", "/api/surveys/"+id+"/check-submission", nil, false, "203.0.113.7")
	body := decodeBody(t, rec)
	if body["hasSubmitted"] != false {
		t.Fatalf("expected hasSubmitted=false, got %v", body)
	}
	if body["hours"].(float64) != 24 {
		t.Fatalf("expected configured window echoed, got %v", body["hours"])
	}

	submit := map[string]any{"answers": map[string]string{"q1": "a"}, "language": "ja"}
	doRequest(t, mux, "POST", "/api/surveys/"+id+"/submit", submit, false, "203.0.113.7")

	rec = doRequest(t, mux, "GET", "/api/surveys/"+id+"/check-submission", nil, false, "203.0.113.7")
	if decodeBody(t, rec)["hasSubmitted"] != true {
		t.Fatalf("expected hasSubmitted=true after submit")
	}
}

func TestAdminDeleteRemovesSurvey(t *testing.T) {
	mux := newTestMux(t)
	id := uploadAndPublish(t, mux)

	rec := doRequest(t, mux, "DELETE", "/api/admin/surveys/"+id, nil, true, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	rec = doRequest(t, mux, "GET", "/api/admin/surveys/"+id, nil, true, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestAdminInitDB(t *testing.T) {
	mux := newTestMux(t)
	rec := doRequest(t, mux, "POST", "/api/admin/init-db", nil, true, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("init-db: %d", rec.Code)
	}
}
