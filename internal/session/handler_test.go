package session

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"arduinohub/internal/auth"
	"arduinohub/internal/detect"
	"arduinohub/internal/generate"
	"arduinohub/pkg/models"
)

type fakeDetector struct {
	res detect.Result
	err error
	got detect.Image
}

func (f *fakeDetector) Detect(_ context.Context, img detect.Image) (detect.Result, error) {
	f.got = img
	return f.res, f.err
}

type memArchive struct {
	mu    sync.Mutex
	saved []models.Project
}

func (a *memArchive) Save(_ context.Context, p models.Project) (models.Project, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, p)
	return p, nil
}

const guideText = "| Component | Pin Connections | Notes |\n|---|---|---|\n| LED | D13 | long leg |\nDouble check polarity."

func sectionGenerator() generate.Generator {
	return generate.GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
		switch {
		case strings.HasPrefix(prompt, "Generate Arduino code"):
			return "void setup() {}\nvoid loop() {}", nil
		case strings.HasPrefix(prompt, "Create connection guide"):
			return guideText, nil
		default:
			return "Basic Concepts:\n• current", nil
		}
	})
}

func newTestServer(t *testing.T, det Detector, archive Archive) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m := NewManager(sectionGenerator(), testOptions())
	t.Cleanup(m.CloseAll)

	r := gin.New()
	rg := r.Group("/")
	rg.Use(func(c *gin.Context) {
		if u := c.GetHeader("X-User"); u != "" {
			c.Set(auth.CtxClaimsKey, &auth.Claims{UserID: u})
		}
	})
	NewHandler(m, det, archive, nil).RegisterRoutes(rg)
	return r
}

func call(r http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func upload(r http.Handler, path, user string, data []byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if data != nil {
		fw, _ := mw.CreateFormFile("image", "parts.png")
		_, _ = fw.Write(data)
	} else {
		_ = mw.WriteField("note", "no file")
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User", user)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body, err)
	}
	return v
}

func TestSessionFlow(t *testing.T) {
	det := &fakeDetector{res: detect.Result{Components: []models.DetectedComponent{
		{ID: 1, Name: "LED light", Quantity: 3},
		{ID: 2, Name: "Buzzer", Quantity: 1},
	}}}
	archive := &memArchive{}
	r := newTestServer(t, det, archive)

	w := call(r, http.MethodPost, "/sessions", "alice", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body)
	}
	id := decode[models.SessionView](t, w).ID
	base := "/sessions/" + id

	if w := call(r, http.MethodPost, base+"/confirm", "alice", nil); w.Code != http.StatusConflict {
		t.Errorf("confirm before upload: %d", w.Code)
	}

	w = upload(r, base+"/detect", "alice", []byte("png-bytes"))
	if w.Code != http.StatusOK {
		t.Fatalf("detect: %d %s", w.Code, w.Body)
	}
	dv := decode[models.DetectionView](t, w)
	if dv.Summary != "Detected: 3 LED light, 1 Buzzer" || len(dv.Components) != 2 {
		t.Errorf("detection view: %+v", dv)
	}
	if string(det.got.Data) != "png-bytes" || det.got.Filename != "parts.png" {
		t.Errorf("detector got %+v", det.got)
	}

	if w := call(r, http.MethodPatch, base+"/components/1", "alice", gin.H{"field": "quantity", "value": "abc"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad quantity: %d", w.Code)
	}
	if w := call(r, http.MethodPatch, base+"/components/1", "alice", gin.H{"field": "quantity", "value": "5"}); w.Code != http.StatusOK {
		t.Errorf("update: %d %s", w.Code, w.Body)
	}
	if w := call(r, http.MethodPatch, base+"/components/99", "alice", gin.H{"field": "name", "value": "x"}); w.Code != http.StatusNotFound {
		t.Errorf("update missing: %d", w.Code)
	}

	w = call(r, http.MethodPost, base+"/components", "alice", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", w.Code, w.Body)
	}
	added := decode[models.DetectedComponent](t, w)
	if added.ID != 3 || added.Name != "New Component" || added.Quantity != 1 {
		t.Errorf("added: %+v", added)
	}

	w = call(r, http.MethodDelete, base+"/components/2", "alice", nil)
	if !strings.Contains(w.Body.String(), `"removed":true`) {
		t.Errorf("remove: %s", w.Body)
	}
	w = call(r, http.MethodDelete, base+"/components/2", "alice", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"removed":false`) {
		t.Errorf("second remove: %d %s", w.Code, w.Body)
	}

	if w := call(r, http.MethodPut, base+"/description", "alice", gin.H{"description": "alarm"}); w.Code != http.StatusOK {
		t.Errorf("description: %d", w.Code)
	}

	if w := call(r, http.MethodPost, base+"/regenerate/code", "alice", nil); w.Code != http.StatusConflict {
		t.Errorf("regenerate before confirm: %d", w.Code)
	}

	w = call(r, http.MethodPost, base+"/confirm?wait=true", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: %d %s", w.Code, w.Body)
	}
	res := decode[models.Results](t, w)
	for _, st := range res.Tasks {
		if st.Status != models.StatusSucceeded || st.Progress != 100 {
			t.Errorf("%s: %+v", st.Section, st)
		}
	}
	if res.Guide == nil || len(res.Guide.Rows) != 1 || res.Guide.RemainingText != "Double check polarity." {
		t.Errorf("guide: %+v", res.Guide)
	}

	if w := call(r, http.MethodPost, base+"/regenerate/schematic", "alice", nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown section: %d", w.Code)
	}
	w = call(r, http.MethodPost, base+"/regenerate/code?wait=1", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("regenerate: %d %s", w.Code, w.Body)
	}
	if st := decode[models.TaskState](t, w); st.Section != models.SectionCode || st.Status != models.StatusSucceeded {
		t.Errorf("regenerated: %+v", st)
	}

	w = call(r, http.MethodPost, base+"/save", "alice", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("save: %d %s", w.Code, w.Body)
	}
	if len(archive.saved) != 1 {
		t.Fatalf("archive: %+v", archive.saved)
	}
	p := archive.saved[0]
	if p.UserID != "alice" || p.Description != "alarm" || p.Guide != guideText || len(p.Components) != 2 {
		t.Errorf("saved: %+v", p)
	}

	if w := call(r, http.MethodGet, base, "bob", nil); w.Code != http.StatusNotFound {
		t.Errorf("bob sees alice's session: %d", w.Code)
	}
	if w := call(r, http.MethodDelete, base, "alice", nil); w.Code != http.StatusOK {
		t.Errorf("delete: %d", w.Code)
	}
	if w := call(r, http.MethodGet, base, "alice", nil); w.Code != http.StatusNotFound {
		t.Errorf("deleted session: %d", w.Code)
	}
}

func TestDetectErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"timeout", &detect.Error{Kind: detect.KindTimeout}, http.StatusGatewayTimeout, "timeout"},
		{"network", &detect.Error{Kind: detect.KindNetworkUnavailable}, http.StatusBadGateway, "network_unavailable"},
		{"server", &detect.Error{Kind: detect.KindServerError, StatusCode: 500}, http.StatusBadGateway, "server_error"},
		{"invalid response", &detect.Error{Kind: detect.KindInvalidResponse, Message: "no model"}, http.StatusBadGateway, "invalid_response"},
		{"invalid input", &detect.Error{Kind: detect.KindInvalidInput, Message: "cannot decode image"}, http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestServer(t, &fakeDetector{err: tt.err}, nil)
			id := decode[models.SessionView](t, call(r, http.MethodPost, "/sessions", "alice", nil)).ID

			w := upload(r, "/sessions/"+id+"/detect", "alice", []byte("img"))
			if w.Code != tt.status {
				t.Errorf("status %d, want %d", w.Code, tt.status)
			}
			body := decode[map[string]string](t, w)
			if body["kind"] != tt.kind || body["error"] == "" {
				t.Errorf("body: %v", body)
			}
		})
	}
}

func TestDetectWithoutFile(t *testing.T) {
	det := &fakeDetector{}
	r := newTestServer(t, det, nil)
	id := decode[models.SessionView](t, call(r, http.MethodPost, "/sessions", "alice", nil)).ID

	w := upload(r, "/sessions/"+id+"/detect", "alice", nil)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "please upload an image first") {
		t.Errorf("got %d %s", w.Code, w.Body)
	}
	if det.got.Data != nil {
		t.Error("detector called without an image")
	}
}

func TestConfirmWithoutComponents(t *testing.T) {
	r := newTestServer(t, &fakeDetector{res: detect.Result{Components: []models.DetectedComponent{}}}, nil)
	id := decode[models.SessionView](t, call(r, http.MethodPost, "/sessions", "alice", nil)).ID
	base := "/sessions/" + id

	_ = upload(r, base+"/detect", "alice", []byte("img"))
	w := call(r, http.MethodPost, base+"/confirm", "alice", nil)
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), ErrNoComponents.Error()) {
		t.Errorf("got %d %s", w.Code, w.Body)
	}
}

func TestSaveWithoutArchive(t *testing.T) {
	r := newTestServer(t, &fakeDetector{}, nil)
	id := decode[models.SessionView](t, call(r, http.MethodPost, "/sessions", "alice", nil)).ID
	if w := call(r, http.MethodPost, "/sessions/"+id+"/save", "alice", nil); w.Code != http.StatusNotImplemented {
		t.Errorf("got %d", w.Code)
	}
}

func TestUnauthenticated(t *testing.T) {
	r := newTestServer(t, &fakeDetector{}, nil)
	if w := call(r, http.MethodPost, "/sessions", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("got %d", w.Code)
	}
}
