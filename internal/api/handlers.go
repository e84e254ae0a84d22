package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/shehryarbajwa/texbridge/internal/compile"
	"github.com/shehryarbajwa/texbridge/internal/workspace"
	"github.com/shehryarbajwa/texbridge/pkg/models"
)

// Version is reported by GET /status
const Version = "2.1.0-hybrid"

const maxMemory = 32 << 20

// Handler holds dependencies for HTTP handlers
type Handler struct {
	workspaces *workspace.Manager
	compiler   *compile.Service
	isCloud    bool
}

// NewHandler creates a new HTTP handler
func NewHandler(workspaces *workspace.Manager, compiler *compile.Service, isCloud bool) *Handler {
	return &Handler{
		workspaces: workspaces,
		compiler:   compiler,
		isCloud:    isCloud,
	}
}

// Status handles GET /status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	cfg := h.compiler.Config()
	writeJSON(w, http.StatusOK, models.StatusResponse{
		Status:         "ok",
		Engines:        h.compiler.Engines(r.Context()),
		DefaultEngine:  cfg.DefaultEngine,
		CompileTimeout: int(cfg.Timeout.Seconds()),
		IsCloud:        h.isCloud,
		Version:        Version,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})
}

// Compile handles POST /compile
func (h *Handler) Compile(w http.ResponseWriter, r *http.Request) {
	var req models.CompileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if writeBodyError(w, err) {
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Files) == 0 && len(req.BinaryFiles) == 0 {
		writeError(w, http.StatusBadRequest, "No files provided")
		return
	}

	files := make(map[string][]byte, len(req.Files)+len(req.BinaryFiles))
	for name, content := range req.Files {
		files[name] = []byte(content)
	}
	for name, encoded := range req.BinaryFiles {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid base64 content for %s", name))
			return
		}
		files[name] = data
	}

	dir, done, err := h.prepare(r, req.ProjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer done()

	if err := workspace.WriteFiles(dir, files); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Printf("📦 Full compile: %d files for project %q", len(files), req.ProjectID)

	h.compileAndRespond(w, r, dir, req.MainFile, req.Engine)
}

// CompileZip handles POST /compile-zip
func (h *Handler) CompileZip(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		if writeBodyError(w, err) {
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	archive, err := formFile(r, "project")
	if err != nil || archive == nil {
		writeError(w, http.StatusBadRequest, "No project archive provided")
		return
	}
	projectID := r.FormValue("projectId")

	dir, done, err := h.prepare(r, projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer done()

	n, err := workspace.ExtractZip(dir, archive)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Printf("📦 Zip compile: %d files (%s) for project %q", n, humanize.Bytes(uint64(len(archive))), projectID)

	h.compileAndRespond(w, r, dir, "", r.FormValue("engine"))
}

// CompileDelta handles POST /compile-delta
func (h *Handler) CompileDelta(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		if writeBodyError(w, err) {
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	projectID := r.FormValue("projectId")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "projectId is required")
		return
	}

	release, err := h.compiler.Lock(r.Context(), workspace.Key(projectID))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer release()

	if !h.workspaces.Exists(projectID) {
		log.Printf("ℹ️  Cache miss for project %q", projectID)
		writeJSON(w, http.StatusGone, models.ErrorResponse{
			Error:   models.CacheMissCode,
			Message: "No cached workspace for this project. Send a full compile.",
		})
		return
	}
	dir, err := h.workspaces.Ensure(projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var deleted []string
	if raw := r.FormValue("deleted_files"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &deleted); err != nil {
			log.Printf("⚠️  Ignoring malformed deleted_files for %q: %v", projectID, err)
			deleted = nil
		}
	}
	removed := workspace.DeleteFiles(dir, deleted)

	archive, err := formFile(r, "delta_zip")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	written := 0
	if len(archive) > workspace.EmptyArchiveSize {
		if written, err = workspace.ExtractZip(dir, archive); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	log.Printf("📦 Delta compile for %q: %d changed, %d deleted", projectID, written, len(removed))

	mainFile := r.FormValue("mainFile")
	if mainFile != "" {
		if p, ok := workspace.SafeJoin(dir, mainFile); !ok || !fileExists(p) {
			mainFile = ""
		}
	}
	h.run(w, r, dir, mainFile, r.FormValue("engine"))
}

// prepare returns the directory a full upload is written to. With a
// project id the workspace is reset under the project lock; otherwise a
// temporary directory is used. done releases both.
func (h *Handler) prepare(r *http.Request, projectID string) (string, func(), error) {
	if projectID == "" {
		return h.workspaces.Temp()
	}
	release, err := h.compiler.Lock(r.Context(), workspace.Key(projectID))
	if err != nil {
		return "", nil, err
	}
	dir, err := h.workspaces.Reset(projectID)
	if err != nil {
		release()
		return "", nil, err
	}
	return dir, release, nil
}

func (h *Handler) compileAndRespond(w http.ResponseWriter, r *http.Request, dir, mainFile, engine string) {
	if mainFile != "" {
		if p, ok := workspace.SafeJoin(dir, mainFile); !ok || !fileExists(p) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Main file %s not found", mainFile))
			return
		}
	}
	h.run(w, r, dir, mainFile, engine)
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, dir, mainFile, engine string) {
	if mainFile == "" {
		found, err := workspace.FindMainFile(dir)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mainFile = found
	}

	result, err := h.compiler.Compile(r.Context(), dir, mainFile, engine)
	if err != nil {
		var failure *compile.Failure
		if errors.As(err, &failure) {
			log.Printf("❌ Compilation failed for %s", mainFile)
			writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
				Error: "Compilation failed.",
				Log:   compile.Tail(failure.Log, compile.LogTail),
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writePDF(w, result.PDF)
}

func formFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func writePDF(w http.ResponseWriter, pdf []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="output.pdf"`)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Write(pdf)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}

// writeBodyError answers 413 when err came from an oversized body
func writeBodyError(w http.ResponseWriter, err error) bool {
	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		return false
	}
	writeError(w, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("Request too large. Maximum size is %s.", humanize.Bytes(uint64(tooLarge.Limit))))
	return true
}
