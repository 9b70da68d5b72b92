package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"xiaoma/internal/audio"
	"xiaoma/internal/stt"
)

func testClip() audio.Clip {
	samples := make([]float32, 8000)
	for i := range samples {
		samples[i] = 0.2
	}
	return audio.Clip{Samples: samples, SampleRate: 16000}
}

func TestHTTPRecognizerUploadsWAV(t *testing.T) {
	t.Parallel()

	var gotModel, gotLang, gotAuth, gotPrompt string
	var gotHeader []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		gotPrompt = r.FormValue("prompt")
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotHeader, _ = io.ReadAll(io.LimitReader(f, 4))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  小马 你好 "}`))
	}))
	defer srv.Close()

	rec := NewHTTPRecognizer(HTTPConfig{BaseURL: srv.URL + "/v1/", APIKey: "k", Language: "zh"}, srv.Client())

	tr, err := rec.Transcribe(context.Background(), testClip())
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if tr.Text != "小马 你好" {
		t.Fatalf("unexpected text: %q", tr.Text)
	}
	if gotModel != "whisper-1" || gotLang != "zh" || gotAuth != "Bearer k" {
		t.Fatalf("unexpected request: model=%q lang=%q auth=%q", gotModel, gotLang, gotAuth)
	}
	if gotPrompt != "" {
		t.Fatalf("questions must be decoded without a prompt, got %q", gotPrompt)
	}
	if string(gotHeader) != "RIFF" {
		t.Fatalf("expected wav upload, got %q", gotHeader)
	}
}

func TestHTTPRecognizerServiceError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"audio too short","type":"invalid_request_error","code":"audio_too_short"}}`))
	}))
	defer srv.Close()

	rec := NewHTTPRecognizer(HTTPConfig{BaseURL: srv.URL}, srv.Client())

	_, err := rec.Transcribe(context.Background(), testClip())
	var sttErr *stt.Error
	if !errors.As(err, &sttErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if sttErr.Code == "" || sttErr.Message == "" {
		t.Fatalf("service error must carry a code and message: %+v", sttErr)
	}
}

func TestHTTPRecognizerRejectsEmptyClip(t *testing.T) {
	t.Parallel()

	rec := NewHTTPRecognizer(HTTPConfig{BaseURL: "http://127.0.0.1:0"}, nil)
	if _, err := rec.Transcribe(context.Background(), audio.Clip{SampleRate: 16000}); err == nil {
		t.Fatalf("expected error for empty clip")
	}
}

func TestWithPromptOnlyBiasesTheCopy(t *testing.T) {
	t.Parallel()

	prompts := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		prompts <- r.FormValue("prompt")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"小马"}`))
	}))
	defer srv.Close()

	base := NewHTTPRecognizer(HTTPConfig{BaseURL: srv.URL}, srv.Client())
	wake := base.WithPrompt("小马")

	if _, err := wake.Transcribe(context.Background(), testClip()); err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if _, err := base.Transcribe(context.Background(), testClip()); err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}

	if got := <-prompts; got != "小马" {
		t.Fatalf("wake recognizer should send the phrase, got %q", got)
	}
	if got := <-prompts; got != "" {
		t.Fatalf("base recognizer must stay unbiased, got %q", got)
	}
}
