package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"talent-inbox/internal/ingestion/delivery"
	"talent-inbox/internal/triage"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T) (*gin.Engine, *SettingsHandler, *triage.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := triage.NewEngine(triage.Settings{Enabled: true, AutoClassifyEnabled: true})
	settings := NewSettingsHandler("http://localhost:11434", "llama3", engine)
	r := gin.New()
	SetupRoutes(r, delivery.NewIngestionHandler(nil, nil, nil, nil, nil), settings)
	return r, settings, engine
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestUpdateTriageSettingsKeepsOmittedFields(t *testing.T) {
	r, _, engine := newTestRouter(t)

	w := doJSON(r, http.MethodPut, "/api/settings/triage", map[string]bool{"auto_classify_enabled": false})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	got := engine.Settings()
	if !got.Enabled {
		t.Error("enabled was reset by a partial update")
	}
	if got.AutoClassifyEnabled {
		t.Error("auto_classify_enabled still true")
	}

	w = doJSON(r, http.MethodGet, "/api/settings/triage", nil)
	var body triage.Settings
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body != got {
		t.Errorf("GET returned %+v, want %+v", body, got)
	}
}

func TestUpdateTriageSettingsRejectsBadJSON(t *testing.T) {
	r, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/api/settings/triage", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestUpdateOllamaSettings(t *testing.T) {
	r, settings, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPut, "/api/settings/ollama", map[string]string{"ollama_base_url": "http://ollama:11434"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if settings.OllamaBaseURL() != "http://ollama:11434" {
		t.Errorf("base url = %q", settings.OllamaBaseURL())
	}
	if settings.OllamaModel() != "llama3" {
		t.Errorf("model changed to %q without being sent", settings.OllamaModel())
	}

	w = doJSON(r, http.MethodPut, "/api/settings/ollama", map[string]string{"ollama_model": "qwen"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing base url: status = %d, want 400", w.Code)
	}
}

func TestOllamaConnectionTest(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer ollama.Close()

	r, _, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/settings/ollama/test", map[string]string{"ollama_base_url": ollama.URL})
	if w.Code != http.StatusOK {
		t.Fatalf("reachable server: status = %d, body %s", w.Code, w.Body.String())
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	w = doJSON(r, http.MethodPost, "/api/settings/ollama/test", map[string]string{"ollama_base_url": down.URL})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("failing server: status = %d, want 503", w.Code)
	}
}

func TestShortTopicName(t *testing.T) {
	cases := map[string]string{
		"gmail-push":                      "gmail-push",
		"projects/acme/topics/gmail-push": "gmail-push",
		"":                                "",
	}
	for in, want := range cases {
		if got := shortTopicName(in); got != want {
			t.Errorf("shortTopicName(%q) = %q, want %q", in, got, want)
		}
	}
}
