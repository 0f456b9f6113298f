package detect

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func createPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestClient(url string) *Client {
	c := NewClient(url)
	c.Timeout = 2 * time.Second
	return c
}

func TestDetectSuccessAssignsSequentialIDs(t *testing.T) {
	var gotField bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		f, _, err := r.FormFile("image")
		if err == nil {
			gotField = true
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"detections":[
			{"name":"LED light","quantity":3},
			{"name":"Breadboard","quantity":1},
			{"name":"Buttons","quantity":2}]}`)
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Detect(context.Background(), Image{Filename: "board.png", Data: []byte("raw")})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if !gotField {
		t.Error("server did not receive multipart field 'image'")
	}

	want := []struct {
		name string
		qty  int
	}{{"LED light", 3}, {"Breadboard", 1}, {"Buttons", 2}}
	if len(res.Components) != len(want) {
		t.Fatalf("components: got %d, want %d", len(res.Components), len(want))
	}
	for i, c := range res.Components {
		if c.ID != i+1 {
			t.Errorf("component %d: id %d, want %d", i, c.ID, i+1)
		}
		if c.Name != want[i].name || c.Quantity != want[i].qty {
			t.Errorf("component %d: got %s x%d, want %s x%d", i, c.Name, c.Quantity, want[i].name, want[i].qty)
		}
	}
	if got := res.Summary(); got != "Detected: 3 LED light, 1 Breadboard, 2 Buttons" {
		t.Errorf("Summary: got %q", got)
	}
}

func TestDetectEmptyImageIsNotSent(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Detect(context.Background(), Image{})
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("got %v, want ErrNoImage", err)
	}
	if kind, _ := KindOf(err); kind != KindInvalidInput {
		t.Errorf("kind: got %s, want invalid_input", kind)
	}
	if called {
		t.Error("request should not have been made")
	}
}

func TestDetectTimeoutWinsOverLateSuccess(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		io.WriteString(w, `{"success":true,"detections":[{"name":"LED light","quantity":1}]}`)
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(srv.URL)
	c.Timeout = 50 * time.Millisecond

	res, err := c.Detect(context.Background(), Image{Data: []byte("img")})
	if kind, ok := KindOf(err); !ok || kind != KindTimeout {
		t.Fatalf("got %v, want timeout", err)
	}
	if len(res.Components) != 0 {
		t.Errorf("late payload leaked into result: %+v", res)
	}
}

func TestDetectNetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Detect(context.Background(), Image{Data: []byte("img")})
	if kind, ok := KindOf(err); !ok || kind != KindNetworkUnavailable {
		t.Fatalf("got %v, want network_unavailable", err)
	}
}

func TestDetectServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"success":false,"error":"Model not loaded"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Detect(context.Background(), Image{Data: []byte("img")})
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("got %v, want *Error", err)
	}
	if de.Kind != KindServerError || de.StatusCode != 500 {
		t.Errorf("got kind %s status %d, want server_error 500", de.Kind, de.StatusCode)
	}
	if de.Message != "Model not loaded" {
		t.Errorf("message: got %q", de.Message)
	}
	if !strings.Contains(de.Error(), "500") {
		t.Errorf("Error() should mention status: %q", de.Error())
	}
}

func TestDetectInvalidResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"malformed json", `{"success":tru`, ""},
		{"success false with message", `{"success":false,"error":"No image uploaded"}`, "No image uploaded"},
		{"success false without message", `{"success":false}`, "Detection failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Detect(context.Background(), Image{Data: []byte("img")})
			var de *Error
			if !errors.As(err, &de) || de.Kind != KindInvalidResponse {
				t.Fatalf("got %v, want invalid_response", err)
			}
			if de.Message != tt.wantMsg {
				t.Errorf("message: got %q, want %q", de.Message, tt.wantMsg)
			}
		})
	}
}

func TestDetectNormalizesLargeImages(t *testing.T) {
	var received image.Config
	var filename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		filename = hdr.Filename
		received, _, _ = image.DecodeConfig(f)
		io.WriteString(w, `{"success":true,"detections":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.MaxDimension = 64

	res, err := c.Detect(context.Background(), Image{Filename: "photo.png", Data: createPNG(t, 200, 100)})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(res.Components) != 0 {
		t.Errorf("expected no components, got %d", len(res.Components))
	}
	if received.Width != 64 || received.Height != 32 {
		t.Errorf("upstream image: got %dx%d, want 64x32", received.Width, received.Height)
	}
	if filename != "photo.jpg" {
		t.Errorf("filename: got %q, want photo.jpg", filename)
	}
}

func TestDetectRejectsUndecodableImageWhenNormalizing(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")
	c.MaxDimension = 64

	_, err := c.Detect(context.Background(), Image{Data: []byte("not an image")})
	if kind, ok := KindOf(err); !ok || kind != KindInvalidInput {
		t.Fatalf("got %v, want invalid_input", err)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  bool
		wantKind Kind
	}{
		{"loaded", http.StatusOK, `{"status":"ok","model_loaded":true}`, false, 0},
		{"not loaded", http.StatusOK, `{"status":"unhealthy","model_loaded":false}`, true, KindServerError},
		{"bad body", http.StatusOK, `nope`, true, KindInvalidResponse},
		{"unavailable html", http.StatusServiceUnavailable, `<html><body>503 Service Unavailable</body></html>`, true, KindServerError},
		{"unavailable json", http.StatusServiceUnavailable, `{"status":"unhealthy","model_loaded":false}`, true, KindServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			err := newTestClient(srv.URL).Health(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Health: err=%v, wantErr=%v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			if kind, ok := KindOf(err); !ok || kind != tt.wantKind {
				t.Errorf("kind: got %v (%v), want %v", kind, ok, tt.wantKind)
			}
			var de *Error
			if tt.status != http.StatusOK && (!errors.As(err, &de) || de.StatusCode != tt.status) {
				t.Errorf("status not carried: %v", err)
			}
		})
	}
}
