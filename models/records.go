package models

import (
	"strings"
	"time"
)

// Instrument represents a recorded document row from the clerk's search results
type Instrument struct {
	FileNo           string
	FileDate         string
	DocType          string // clerk code, e.g. "D" or "AFF"
	FilmCode         string
	Grantors         string // comma separated
	Grantees         string // comma separated
	LegalDescription string
	Pages            string
	PdfURL           string
	InstrumentType   string // human label(s) the search was requested under
}

// AddressResult is an instrument joined with the property address resolved for it
type AddressResult struct {
	FileNo           string
	Grantor          string
	Grantee          string
	InstrumentType   string
	RecordingDate    string
	FilmCode         string
	LegalDescription string
	LegalDescClean   string
	PropertyAddress  string
	Source           string // "hcad", "pdf", or why nothing was found
	SearchName       string // name variation that produced the match
}

// NewAddressResult copies the instrument columns every result carries
func NewAddressResult(inst Instrument) AddressResult {
	return AddressResult{
		FileNo:           inst.FileNo,
		Grantor:          inst.Grantors,
		Grantee:          inst.Grantees,
		InstrumentType:   inst.InstrumentType,
		RecordingDate:    inst.FileDate,
		FilmCode:         inst.FilmCode,
		LegalDescription: strings.TrimSpace(inst.LegalDescription),
	}
}

// Address result sources
const (
	SourceHCAD     = "hcad"
	SourcePDF      = "pdf"
	SourceNotFound = "not found"
)

// RunKind distinguishes the two dependent jobs
type RunKind string

const (
	RunKindInstruments RunKind = "instruments"
	RunKindAddresses   RunKind = "addresses"
)

// RunStatus mirrors the request lifecycle
type RunStatus string

const (
	RunStatusCreated    RunStatus = "created"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusDone       RunStatus = "done"
	RunStatusFailed     RunStatus = "failed"
)

// Run is one execution of either job
type Run struct {
	ID               string
	Kind             RunKind
	Status           RunStatus
	SourceRunID      string   // for address runs: the instruments run feeding it
	InstrumentTypes  []string // human names requested
	StartDate        string   // MM/DD/YYYY
	EndDate          string   // MM/DD/YYYY
	TotalRecords     int
	RecordsProcessed int
	AddressesFound   int
	SuccessRate      float64
	ErrorMessage     string
	SheetName        string
	StartedAt        time.Time
	FinishedAt       *time.Time
	CreatedAt        time.Time
}

// DateRange formats the run's search window
func (r Run) DateRange() string {
	if r.StartDate == "" && r.EndDate == "" {
		return ""
	}
	return r.StartDate + " - " + r.EndDate
}

// Finished reports whether the run reached a terminal status
func (r Run) Finished() bool {
	return r.Status == RunStatusDone || r.Status == RunStatusFailed
}

// ProcessLog is a progress entry recorded while a run executes
type ProcessLog struct {
	RunID              string
	Timestamp          time.Time
	Stage              string
	Message            string
	RecordsProcessed   int
	AddressesFound     int
	ProgressPercentage float64
}
