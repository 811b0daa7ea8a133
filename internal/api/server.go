// Package api exposes the assistant's HTTP surface: upload, contact search,
// synchronization and ICS export.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"legalaid/internal/config"
	"legalaid/internal/ics"
	"legalaid/internal/models"
	"legalaid/internal/syncer"
)

// maxUploadBytes bounds the accepted PDF size.
const maxUploadBytes = 32 << 20

// directory is the slice of the provider client the handlers use directly;
// everything else goes through the orchestrator.
type directory interface {
	Me(ctx context.Context) (models.Identity, error)
	SearchPeople(ctx context.Context, query string) ([]models.Attendee, error)
	FindGroup(ctx context.Context, name string) (string, error)
	GroupMembers(ctx context.Context, groupID string) ([]models.Attendee, error)
}

// extractor turns an uploaded PDF into case metadata and entries.
type extractor interface {
	Upload(ctx context.Context, fileName string, file io.Reader) (models.CaseRecord, []models.EventEntry, error)
}

// orchestrator runs the sync workflow.
type orchestrator interface {
	Sync(ctx context.Context, input syncer.Input) (*syncer.Outcome, error)
	State() syncer.State
}

type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	directory directory
	extractor extractor
	syncer    orchestrator
	mux       *http.ServeMux
}

func NewServer(cfg config.Config, dir directory, ext extractor, orch orchestrator, logger *slog.Logger) *Server {
	server := &Server{
		cfg:       cfg,
		logger:    logger,
		directory: dir,
		extractor: ext,
		syncer:    orch,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload", server.handleUpload)
	mux.HandleFunc("/api/me", server.handleMe)
	mux.HandleFunc("/api/contacts", server.handleContacts)
	mux.HandleFunc("/api/group-members", server.handleGroupMembers)
	mux.HandleFunc("/api/sync", server.handleSync)
	mux.HandleFunc("/api/ics", server.handleICS)
	mux.HandleFunc("/health", server.handleHealth)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "syncState": string(s.syncer.State())})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, err := s.directory.Me(r.Context())
	if err != nil {
		s.logger.Error("Failed to resolve identity", "error", err)
		writeJSON(w, http.StatusBadGateway, syncer.UserError{Message: "Error fetching user", Debug: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.extractor == nil {
		http.Error(w, "extraction service not configured", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	record, entries, err := s.extractor.Upload(r.Context(), header.Filename, file)
	if err != nil {
		s.logger.Error("Extraction failed", "file", header.Filename, "error", err)
		writeJSON(w, http.StatusBadGateway, syncer.UserError{Message: "Error fetching data", Debug: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"case": record, "events": entries})
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query().Get("q")
	// Match the edit form's behavior: no lookups until the query is typed out.
	if len(query) < 3 {
		writeJSON(w, http.StatusOK, []models.Attendee{})
		return
	}

	contacts, err := s.directory.SearchPeople(r.Context(), query)
	if err != nil {
		s.logger.Error("Contact search failed", "query", query, "error", err)
		writeJSON(w, http.StatusBadGateway, syncer.UserError{Message: "Error fetching contacts", Debug: err.Error()})
		return
	}
	if contacts == nil {
		contacts = []models.Attendee{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

// handleGroupMembers preloads the attendee picker with the members of an
// existing case group, so re-syncs keep the people already added.
func (s *Server) handleGroupMembers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caseNumber := r.URL.Query().Get("case")
	if caseNumber == "" {
		http.Error(w, "missing case parameter", http.StatusBadRequest)
		return
	}

	groupID, err := s.directory.FindGroup(r.Context(), caseNumber)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, syncer.UserError{Message: "Error fetching contacts", Debug: err.Error()})
		return
	}
	if groupID == "" {
		writeJSON(w, http.StatusOK, []models.Attendee{})
		return
	}

	members, err := s.directory.GroupMembers(r.Context(), groupID)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, syncer.UserError{Message: "Error fetching contacts", Debug: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var input syncer.Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	outcome, err := s.syncer.Sync(r.Context(), input)
	if err != nil {
		var verr *syncer.ValidationError
		status := http.StatusBadGateway
		if errors.As(err, &verr) {
			status = http.StatusBadRequest
		}
		s.logger.Error("Sync failed", "case", input.Case.CaseNumber, "error", err)
		writeJSON(w, status, syncer.AsUserError(err))
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// handleICS returns the case as a downloadable iCalendar document. This is
// the offline alternative to syncing: no provider calls are made.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var input struct {
		Case     models.CaseRecord   `json:"case"`
		Events   []models.EventEntry `json:"events"`
		TimeZone string              `json:"timeZone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	document, err := ics.Generate(input.Case, input.Events, input.TimeZone)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ics.FileName(input.Case)))
	_, _ = io.WriteString(w, document)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
