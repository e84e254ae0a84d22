package compiler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/shehryarbajwa/texbridge/pkg/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, "tok")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestCompileReturnsPDF(t *testing.T) {
	var got models.CompileRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/compile" || r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.5"))
	})

	pdf, err := client.Compile(context.Background(), models.CompileRequest{
		Files:     map[string]string{"main.tex": "x"},
		Engine:    "pdflatex",
		ProjectID: "p1",
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if string(pdf) != "%PDF-1.5" {
		t.Errorf("pdf = %q", pdf)
	}
	if got.ProjectID != "p1" || got.Files["main.tex"] != "x" {
		t.Errorf("request body = %+v", got)
	}
}

func TestResponseClassification(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    any
		check   func(error) bool
		outcome models.OutcomeCode
	}{
		{"not found", http.StatusNotFound, map[string]string{"error": "nope"},
			func(err error) bool { return errors.Is(err, ErrEndpointMissing) }, models.OutcomeEndpointMissing},
		{"gone", http.StatusGone, map[string]string{"error": "CACHE_MISS", "message": "send zip"},
			func(err error) bool { return errors.Is(err, ErrCacheMiss) }, models.OutcomeCacheMiss},
		{"cache miss body", http.StatusBadRequest, map[string]string{"error": "CACHE_MISS"},
			func(err error) bool { return errors.Is(err, ErrCacheMiss) }, models.OutcomeCacheMiss},
		{"disguised cache miss", http.StatusOK, map[string]string{"error": "CACHE_MISS"},
			func(err error) bool { return errors.Is(err, ErrCacheMiss) }, models.OutcomeCacheMiss},
		{"compile failure", http.StatusInternalServerError, map[string]string{"error": "Compilation failed.", "log": "! Undefined control sequence."},
			func(err error) bool {
				var ce *CompileError
				return errors.As(err, &ce) && ce.Log == "! Undefined control sequence."
			}, models.OutcomeCompileFailed},
		{"unauthorized", http.StatusUnauthorized, map[string]string{"error": "Unauthorized"},
			func(err error) bool {
				var ae *APIError
				return errors.As(err, &ae) && ae.Status == http.StatusUnauthorized
			}, models.OutcomeUnauthorized},
		{"disguised error", http.StatusOK, map[string]string{"error": "boom"},
			func(err error) bool {
				var ae *APIError
				return errors.As(err, &ae) && ae.Code == "boom"
			}, models.OutcomeError},
	}

	for _, tc := range cases {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tc.status, tc.body)
		})
		_, err := client.CompileDelta(context.Background(), DeltaRequest{ProjectID: "p1"})
		if err == nil || !tc.check(err) {
			t.Errorf("%s: err = %v", tc.name, err)
		}
		if got := Outcome(err); got != tc.outcome {
			t.Errorf("%s: outcome = %s, want %s", tc.name, got, tc.outcome)
		}
	}
}

func TestOutcomeRoundTrip(t *testing.T) {
	if err := FromOutcome(models.OutcomeCacheMiss, "", ""); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("cache miss rebuilt as %v", err)
	}
	if err := FromOutcome(models.OutcomeEndpointMissing, "", ""); !errors.Is(err, ErrEndpointMissing) {
		t.Errorf("endpoint missing rebuilt as %v", err)
	}
	var ce *CompileError
	if err := FromOutcome(models.OutcomeCompileFailed, "bad", "log"); !errors.As(err, &ce) || ce.Log != "log" {
		t.Errorf("compile failure rebuilt as %v", err)
	}
	if Outcome(FromOutcome(models.OutcomeUnauthorized, "x", "")) != models.OutcomeUnauthorized {
		t.Error("unauthorized did not survive round trip")
	}
	if FromOutcome(models.OutcomeOK, "", "") != nil {
		t.Error("ok rebuilt as an error")
	}
}

func TestCompileDeltaForm(t *testing.T) {
	var fields map[string]string
	var archive []byte
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		f, _, err := r.FormFile("delta_zip")
		if err != nil {
			t.Errorf("delta_zip missing: %v", err)
		} else {
			archive, _ = io.ReadAll(f)
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF"))
	})

	payload := &models.DeltaPayload{
		ProjectID:     "p1",
		ChangedFiles:  map[string]string{"main.tex": "B"},
		ChangedBinary: map[string]string{"img.png": base64.StdEncoding.EncodeToString([]byte{0x89, 'P'})},
		DeletedFiles:  []string{"old.tex"},
	}
	zipped, err := BuildDeltaArchive(payload)
	if err != nil {
		t.Fatalf("BuildDeltaArchive: %v", err)
	}
	if _, err := client.CompileDelta(context.Background(), DeltaRequest{
		ProjectID: "p1",
		Engine:    "xelatex",
		Archive:   zipped,
		Deleted:   payload.DeletedFiles,
	}); err != nil {
		t.Fatalf("CompileDelta: %v", err)
	}

	if fields["projectId"] != "p1" || fields["engine"] != "xelatex" || fields["deleted_files"] != `["old.tex"]` {
		t.Errorf("form fields = %v", fields)
	}
	if _, ok := fields["mainFile"]; ok {
		t.Error("empty mainFile should not be sent")
	}

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	got := map[string]string{}
	for _, f := range zr.File {
		rc, _ := f.Open()
		data, _ := io.ReadAll(rc)
		rc.Close()
		got[f.Name] = string(data)
	}
	want := map[string]string{"img.png": "\x89P", "main.tex": "B"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("archive = %q, want %q", got, want)
	}
}

func TestEmptyDeltaArchive(t *testing.T) {
	data, err := BuildDeltaArchive(&models.DeltaPayload{ProjectID: "p"})
	if err != nil {
		t.Fatalf("BuildDeltaArchive: %v", err)
	}
	if len(data) != EmptyArchiveSize {
		t.Errorf("empty archive is %d bytes, want %d", len(data), EmptyArchiveSize)
	}
}

func TestStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.StatusResponse{Status: "ok", Engines: []string{"pdflatex"}, IsCloud: true})
	})
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.IsCloud || status.Engines[0] != "pdflatex" {
		t.Errorf("status = %+v", status)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	if got, err := NormalizeBaseURL(" http://localhost:8765/ "); err != nil || got != "http://localhost:8765" {
		t.Errorf("NormalizeBaseURL = %q, %v", got, err)
	}
	for _, bad := range []string{"", "compile.example.com"} {
		if _, err := NormalizeBaseURL(bad); err == nil {
			t.Errorf("NormalizeBaseURL(%q) accepted", bad)
		}
	}
}
