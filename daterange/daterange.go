package daterange

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// ClerkLayout is the date format the clerk portal's search form expects
const ClerkLayout = "01/02/2006"

// ISOLayout is the format used by HTML date inputs and file names
const ISOLayout = "2006-01-02"

// ErrInvalidRange is returned when the start date falls after the end date
var ErrInvalidRange = eris.New("start date must not be after end date")

// Window is one slice of a longer search range
type Window struct {
	Start time.Time
	End   time.Time
	Label string // e.g. "09/01/2025-09/07/2025"
}

// ClerkStart formats the window start for the clerk search form
func (w Window) ClerkStart() string { return w.Start.Format(ClerkLayout) }

// ClerkEnd formats the window end for the clerk search form
func (w Window) ClerkEnd() string { return w.End.Format(ClerkLayout) }

// Parse accepts either YYYY-MM-DD or MM/DD/YYYY
func Parse(s string) (time.Time, error) {
	if t, err := time.Parse(ISOLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(ClerkLayout, s)
	if err != nil {
		return time.Time{}, eris.Errorf("daterange: invalid date %q", s)
	}
	return t, nil
}

// Split breaks [start, end] into consecutive windows of stepDays days, both ends inclusive.
// A stepDays of zero or less returns the whole range as one window.
func Split(start, end time.Time, stepDays int) ([]Window, error) {
	if start.After(end) {
		return nil, ErrInvalidRange
	}

	if stepDays <= 0 {
		return []Window{newWindow(start, end)}, nil
	}

	var windows []Window
	for from := start; !from.After(end); from = from.AddDate(0, 0, stepDays) {
		to := from.AddDate(0, 0, stepDays-1)
		if to.After(end) {
			to = end
		}
		windows = append(windows, newWindow(from, to))
	}
	return windows, nil
}

// CountWindows returns how many stepDays windows cover [start, end]
func CountWindows(start, end time.Time, stepDays int) int {
	if stepDays <= 0 || !end.After(start) {
		return 1
	}
	days := int(end.Sub(start).Hours()/24) + 1
	count := days / stepDays
	if days%stepDays != 0 {
		count++
	}
	return count
}

func newWindow(from, to time.Time) Window {
	return Window{
		Start: from,
		End:   to,
		Label: fmt.Sprintf("%s-%s", from.Format(ClerkLayout), to.Format(ClerkLayout)),
	}
}
