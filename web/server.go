package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"property-scraper/config"
	"property-scraper/daterange"
	"property-scraper/db"
	"property-scraper/export"
	"property-scraper/models"
	"property-scraper/sheets"

	"github.com/gorilla/mux"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Default search window shown on the form
const (
	DefaultStartDate = "2025-09-01"
	DefaultEndDate   = "2025-09-10"
)

const recentRuns = 20

// SheetsPublisher pushes run output to Google Sheets
type SheetsPublisher interface {
	CreateSheetAndWriteResults(ctx context.Context, sheetName string, results []models.AddressResult, meta sheets.Metadata) (string, int64, error)
	CreateSheetAndWriteInstruments(ctx context.Context, sheetName string, instruments []models.Instrument, meta sheets.Metadata) (string, int64, error)
}

// Options configures optional parts of the UI
type Options struct {
	Sheets         SheetsPublisher // nil hides the Sheets button
	SpreadsheetURL string
	RefreshSecs    int // page refresh while a run is active
}

// Server is the browser UI: Step 1 form, run pages, the Step 2 trigger and downloads
type Server struct {
	store   db.Store
	catalog *config.Catalog
	opts    Options
	tmpl    *template.Template
	router  *mux.Router
}

// NewServer builds the router and parses the page templates
func NewServer(store db.Store, catalog *config.Catalog, opts Options) (*Server, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, eris.Wrap(err, "web: parse templates")
	}
	if opts.RefreshSecs <= 0 {
		opts.RefreshSecs = 5
	}

	s := &Server{
		store:   store,
		catalog: catalog,
		opts:    opts,
		tmpl:    tmpl,
		router:  mux.NewRouter(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
	s.router.HandleFunc("/runs", s.handleCreateRun).Methods("POST")
	s.router.HandleFunc("/runs/{id}", s.handleRun).Methods("GET")
	s.router.HandleFunc("/runs/{id}/addresses", s.handleResolveAddresses).Methods("POST")
	s.router.HandleFunc("/runs/{id}/export.csv", s.handleExportCSV).Methods("GET")
	s.router.HandleFunc("/runs/{id}/export.xlsx", s.handleExportXLSX).Methods("GET")
	s.router.HandleFunc("/runs/{id}/sheets", s.handleSheets).Methods("POST")
	s.router.HandleFunc("/runs/{id}/delete", s.handleDelete).Methods("POST")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("web UI listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "web: listen")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return eris.Wrap(srv.Shutdown(shutdownCtx), "web: shutdown")
	}
}

type indexPage struct {
	Types     []string
	Selected  map[string]bool
	StartDate string
	EndDate   string
	Error     string
	Runs      []models.Run
}

type runPage struct {
	Run            models.Run
	Source         *models.Run
	Logs           []models.ProcessLog
	Instruments    []models.Instrument
	Results        []models.AddressResult
	CanResolve     bool
	SheetsEnabled  bool
	SpreadsheetURL string
	RefreshSecs    int
	Error          string
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page := indexPage{
		StartDate: DefaultStartDate,
		EndDate:   DefaultEndDate,
		Selected:  map[string]bool{},
	}
	s.renderIndex(w, r, http.StatusOK, page)
}

func (s *Server) renderIndex(w http.ResponseWriter, r *http.Request, status int, page indexPage) {
	page.Types = s.catalog.Names()

	runs, err := s.store.ListRuns(r.Context(), recentRuns)
	if err != nil {
		s.serverError(w, err)
		return
	}
	page.Runs = runs

	s.render(w, status, "index", page)
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	types := r.PostForm["instrument_types"]
	page := indexPage{
		StartDate: strings.TrimSpace(r.PostFormValue("start_date")),
		EndDate:   strings.TrimSpace(r.PostFormValue("end_date")),
		Selected:  make(map[string]bool, len(types)),
	}
	for _, t := range types {
		page.Selected[t] = true
	}

	run, problem := s.validateRun(types, page.StartDate, page.EndDate)
	if problem != "" {
		page.Error = problem
		s.renderIndex(w, r, http.StatusBadRequest, page)
		return
	}

	if err := s.store.CreateRun(r.Context(), run); err != nil {
		s.serverError(w, err)
		return
	}

	zap.L().Info("instrument run queued", zap.String("run_id", run.ID), zap.Strings("types", types))
	http.Redirect(w, r, "/runs/"+run.ID, http.StatusSeeOther)
}

// validateRun checks the Step 1 form and builds the run it describes. A
// non-empty message is shown to the user instead.
func (s *Server) validateRun(types []string, startDate, endDate string) (*models.Run, string) {
	if len(types) == 0 {
		return nil, "Please select at least one instrument type."
	}
	for _, t := range types {
		if _, ok := s.catalog.Code(t); !ok {
			return nil, fmt.Sprintf("Unknown instrument type %q.", t)
		}
	}

	start, err := daterange.Parse(startDate)
	if err != nil {
		return nil, fmt.Sprintf("Invalid start date %q.", startDate)
	}
	end, err := daterange.Parse(endDate)
	if err != nil {
		return nil, fmt.Sprintf("Invalid end date %q.", endDate)
	}
	if start.After(end) {
		return nil, "Start date must be before end date."
	}

	return &models.Run{
		Kind:            models.RunKindInstruments,
		InstrumentTypes: types,
		StartDate:       start.Format(daterange.ClerkLayout),
		EndDate:         end.Format(daterange.ClerkLayout),
	}, ""
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	logs, err := s.store.GetProcessLogs(ctx, run.ID)
	if err != nil {
		s.serverError(w, err)
		return
	}

	page := runPage{
		Run:            *run,
		Logs:           logs,
		SheetsEnabled:  s.opts.Sheets != nil,
		SpreadsheetURL: s.opts.SpreadsheetURL,
		RefreshSecs:    s.opts.RefreshSecs,
		Error:          r.URL.Query().Get("error"),
	}

	switch run.Kind {
	case models.RunKindInstruments:
		page.Instruments, err = s.store.GetInstruments(ctx, run.ID)
		page.CanResolve = run.Status == models.RunStatusDone && len(page.Instruments) > 0
	case models.RunKindAddresses:
		page.Results, err = s.store.GetResults(ctx, run.ID)
		if err == nil && run.SourceRunID != "" {
			if source, srcErr := s.store.GetRun(ctx, run.SourceRunID); srcErr == nil {
				page.Source = source
			}
		}
	}
	if err != nil {
		s.serverError(w, err)
		return
	}

	s.render(w, http.StatusOK, "run", page)
}

// handleResolveAddresses is the Step 1 to Step 2 hand-off
func (s *Server) handleResolveAddresses(w http.ResponseWriter, r *http.Request) {
	source, ok := s.loadRun(w, r)
	if !ok {
		return
	}

	if source.Kind != models.RunKindInstruments || source.Status != models.RunStatusDone {
		http.Error(w, "addresses can only be resolved for a finished instruments run", http.StatusConflict)
		return
	}

	run := &models.Run{
		Kind:            models.RunKindAddresses,
		SourceRunID:     source.ID,
		InstrumentTypes: source.InstrumentTypes,
		StartDate:       source.StartDate,
		EndDate:         source.EndDate,
	}
	if err := s.store.CreateRun(r.Context(), run); err != nil {
		s.serverError(w, err)
		return
	}

	zap.L().Info("address run queued", zap.String("run_id", run.ID), zap.String("source_run_id", source.ID))
	http.Redirect(w, r, "/runs/"+run.ID, http.StatusSeeOther)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, "csv", "text/csv; charset=utf-8")
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
}

func (s *Server) export(w http.ResponseWriter, r *http.Request, ext, contentType string) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var (
		buf  bytes.Buffer
		kind string
		err  error
	)
	switch run.Kind {
	case models.RunKindAddresses:
		kind = export.KindResults
		var results []models.AddressResult
		if results, err = s.store.GetResults(ctx, run.ID); err == nil {
			if ext == "xlsx" {
				err = export.WriteResultsXLSX(&buf, results)
			} else {
				err = export.WriteResultsCSV(&buf, results)
			}
		}
	default:
		kind = export.KindInstruments
		var instruments []models.Instrument
		if instruments, err = s.store.GetInstruments(ctx, run.ID); err == nil {
			if ext == "xlsx" {
				err = export.WriteInstrumentsXLSX(&buf, instruments)
			} else {
				err = export.WriteInstrumentsCSV(&buf, instruments)
			}
		}
	}
	if err != nil {
		s.serverError(w, err)
		return
	}

	name := export.FileName(kind, run.StartDate, run.EndDate, ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(buf.Bytes()) //nolint:errcheck
}

func (s *Server) handleSheets(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	if s.opts.Sheets == nil {
		http.Error(w, "Google Sheets export is not configured", http.StatusNotImplemented)
		return
	}
	ctx := r.Context()

	meta := sheets.Metadata{DateRange: run.DateRange(), InstrumentTypes: strings.Join(run.InstrumentTypes, ", ")}
	sheetName := fmt.Sprintf("%s %s %s", kindLabel(run.Kind), run.StartDate, time.Now().Format("150405"))

	var (
		created string
		err     error
	)
	switch run.Kind {
	case models.RunKindAddresses:
		var results []models.AddressResult
		if results, err = s.store.GetResults(ctx, run.ID); err == nil {
			created, _, err = s.opts.Sheets.CreateSheetAndWriteResults(ctx, sheetName, results, meta)
		}
	default:
		var instruments []models.Instrument
		if instruments, err = s.store.GetInstruments(ctx, run.ID); err == nil {
			created, _, err = s.opts.Sheets.CreateSheetAndWriteInstruments(ctx, sheetName, instruments, meta)
		}
	}
	if err != nil {
		zap.L().Error("sheets export failed", zap.String("run_id", run.ID), zap.Error(err))
		http.Redirect(w, r, "/runs/"+run.ID+"?error="+url.QueryEscape("Sheets export failed: "+err.Error()), http.StatusSeeOther)
		return
	}

	if err := s.store.UpdateRunSheetName(ctx, run.ID, created); err != nil {
		s.serverError(w, err)
		return
	}
	http.Redirect(w, r, "/runs/"+run.ID, http.StatusSeeOther)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.DeleteRun(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.serverError(w, err)
		return
	}
	zap.L().Info("run deleted", zap.String("run_id", id))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// loadRun fetches the run named in the path, writing 404 when it is unknown
func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*models.Run, bool) {
	run, err := s.store.GetRun(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, db.ErrNotFound) {
		http.NotFound(w, r)
		return nil, false
	}
	if err != nil {
		s.serverError(w, err)
		return nil, false
	}
	return run, true
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		s.serverError(w, eris.Wrapf(err, "web: render %s", name))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes()) //nolint:errcheck
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	zap.L().Error("request failed", zap.Error(err))
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
