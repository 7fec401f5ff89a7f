package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/JonMunkholm/csvedit/internal/core"
	"github.com/JonMunkholm/csvedit/internal/logging"
	"github.com/go-chi/chi/v5"
)

// multipartMemory is how much of an upload is kept in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

// sessionResponse is a session snapshot tagged with its id.
type sessionResponse struct {
	ID string `json:"id"`
	core.Snapshot
}

// cellResponse acknowledges an edit without echoing the whole grid.
type cellResponse struct {
	Row     int    `json:"row"`
	Col     int    `json:"col"`
	Value   string `json:"value"`
	Dirty   bool   `json:"dirty"`
	Rows    int    `json:"rows"`
	Columns int    `json:"columns"`
	Edits   int    `json:"edits"`
}

type loadRequest struct {
	Handle string `json:"handle"`
}

type editRequest struct {
	Row   *int    `json:"row"`
	Col   *int    `json:"col"`
	Value *string `json:"value"`
}

type exportRequest struct {
	Name string `json:"name"`
}

type exportResponse struct {
	Export  core.ExportResult `json:"export"`
	Session sessionResponse   `json:"session"`
}

// decodeJSON reads a bounded JSON body into v. An empty body is accepted
// when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: request body exceeds %d bytes", core.ErrFileTooLarge, maxJSONBody)
		}
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// snapshot builds the session response for id.
func (s *Server) snapshot(id string) (sessionResponse, error) {
	snap, err := s.service.Snapshot(id)
	if err != nil {
		return sessionResponse{}, err
	}
	return sessionResponse{ID: id, Snapshot: snap}, nil
}

// handleHealth reports liveness, session count and storage slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.service.SessionCount(),
		"io":       s.service.IOStatus(),
	})
}

// handleListDocuments returns the documents available to load.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.service.ListDocuments(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if docs == nil {
		docs = []core.DocumentInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleCreateSession starts an empty editing session.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.service.CreateSession(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	resp, err := s.snapshot(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/sessions/"+id)
	writeJSON(w, http.StatusCreated, resp)
}

// handleGetSession returns the session state and grid.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	resp, err := s.snapshot(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCloseSession discards the session and any unsaved edits.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CloseSession(chi.URLParam(r, "sessionID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLoad loads a stored document into the session.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var req loadRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.respondError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Handle) == "" {
		s.respondError(w, r, badRequest("handle is required"))
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	if err := s.service.Load(ctx, id, req.Handle); err != nil {
		s.respondError(w, r, err)
		return
	}

	resp, err := s.snapshot(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpload loads a CSV file sent as multipart field "file".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	maxSize := s.service.MaxFileSize()
	if maxSize > 0 {
		// Leave room for the multipart envelope around the file.
		r.Body = http.MaxBytesReader(w, r.Body, maxSize+64<<10)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			s.respondError(w, r, fmt.Errorf("%w: upload exceeds %d bytes", core.ErrFileTooLarge, maxSize))
			return
		}
		s.respondError(w, r, badRequest("file too large or invalid form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, badRequest("no file provided"))
		return
	}
	defer file.Close()

	text, err := core.ReadText(file, maxSize)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	doc := core.RawDocument{Name: header.Filename, Text: text}
	if err := s.service.LoadDocument(ctx, id, doc); err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.WithFields(ctx, "session_id", id).Info("document uploaded",
		"filename", header.Filename,
		"bytes", len(text),
	)

	resp, err := s.snapshot(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEditCell sets one cell. Cells past the grid's end are created.
func (s *Server) handleEditCell(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var req editRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.Row == nil || req.Col == nil || req.Value == nil {
		s.respondError(w, r, badRequest("row, col and value are required"))
		return
	}

	if err := s.service.EditCell(r.Context(), id, *req.Row, *req.Col, *req.Value); err != nil {
		s.respondError(w, r, err)
		return
	}

	snap, err := s.service.Snapshot(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cellResponse{
		Row:     *req.Row,
		Col:     *req.Col,
		Value:   *req.Value,
		Dirty:   snap.Dirty,
		Rows:    snap.Rows,
		Columns: snap.Columns,
		Edits:   snap.Edits,
	})
}

// handleExport writes the edited grid to storage.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var req exportRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.Export(ctx, id, strings.TrimSpace(req.Name))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	sess, err := s.snapshot(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{Export: result, Session: sess})
}

// handleDownloadCSV streams the current grid as a CSV attachment without
// exporting it.
func (s *Server) handleDownloadCSV(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	snap, err := s.service.Snapshot(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	text, err := s.service.CSV(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	name := snap.Name
	if name == "" {
		name = core.DefaultExportName
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, text); err != nil {
		logging.FromContext(r.Context()).Error("csv download write failed", "session_id", id, "error", err)
	}
}
