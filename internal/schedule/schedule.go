package schedule

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// TimeFormat is the CMS wire format for schedule bounds, in local time.
const TimeFormat = "2006-01-02 15:04:05"

// Interval schedules one layout between two inclusive bounds.
type Interval struct {
	From     time.Time
	To       time.Time
	LayoutID int64
	Priority int
}

// Schedule is an immutable set of intervals plus an optional default layout.
// A nil *Schedule behaves like an empty one.
type Schedule struct {
	intervals     []Interval
	defaultLayout int64
	hasDefault    bool
}

type scheduleDoc struct {
	Layouts []layoutDoc `xml:"layout"`
	Default *defaultDoc `xml:"default"`
}

type layoutDoc struct {
	File     string `xml:"file,attr"`
	FromDt   string `xml:"fromdt,attr"`
	ToDt     string `xml:"todt,attr"`
	Priority string `xml:"priority,attr"`
}

type defaultDoc struct {
	File string `xml:"file,attr"`
}

// Parse decodes a schedule document. Any malformed entry rejects the whole
// document.
func Parse(doc string) (*Schedule, error) {
	var raw scheduleDoc
	if err := xml.Unmarshal([]byte(doc), &raw); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}

	s := &Schedule{}
	for i, l := range raw.Layouts {
		iv, err := parseInterval(l)
		if err != nil {
			return nil, fmt.Errorf("schedule layout %d: %w", i, err)
		}
		s.intervals = append(s.intervals, iv)
	}
	if raw.Default != nil {
		id, err := strconv.ParseInt(strings.TrimSpace(raw.Default.File), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("schedule default: %w", err)
		}
		s.defaultLayout, s.hasDefault = id, true
	}
	return s, nil
}

func parseInterval(l layoutDoc) (Interval, error) {
	var (
		iv  Interval
		err error
	)
	if iv.LayoutID, err = strconv.ParseInt(strings.TrimSpace(l.File), 10, 64); err != nil {
		return iv, fmt.Errorf("file: %w", err)
	}
	if iv.From, err = parseTime(l.FromDt); err != nil {
		return iv, fmt.Errorf("fromdt: %w", err)
	}
	if iv.To, err = parseTime(l.ToDt); err != nil {
		return iv, fmt.Errorf("todt: %w", err)
	}
	if p := strings.TrimSpace(l.Priority); p != "" {
		if iv.Priority, err = strconv.Atoi(p); err != nil {
			return iv, fmt.Errorf("priority: %w", err)
		}
	}
	return iv, nil
}

func parseTime(raw string) (time.Time, error) {
	return time.ParseInLocation(TimeFormat, strings.TrimSpace(raw), time.Local)
}

// LayoutsNow returns the layouts that should be cycling at now: every
// matching interval at the highest matching priority, in document order.
// Without any match the default layout is returned, if there is one.
func (s *Schedule) LayoutsNow(now time.Time) []int64 {
	if s == nil {
		return nil
	}
	var (
		out   []int64
		best  int
		found bool
	)
	for _, iv := range s.intervals {
		if now.Before(iv.From) || now.After(iv.To) {
			continue
		}
		switch {
		case !found || iv.Priority > best:
			out = []int64{iv.LayoutID}
			best, found = iv.Priority, true
		case iv.Priority == best:
			out = append(out, iv.LayoutID)
		}
	}
	if found {
		return out
	}
	if s.hasDefault {
		return []int64{s.defaultLayout}
	}
	return nil
}

func (s *Schedule) Default() (int64, bool) {
	if s == nil {
		return 0, false
	}
	return s.defaultLayout, s.hasDefault
}

func (s *Schedule) Len() int {
	if s == nil {
		return 0
	}
	return len(s.intervals)
}

type fileDoc struct {
	Default   *int64        `json:"default,omitempty"`
	Intervals []intervalDoc `json:"intervals"`
}

type intervalDoc struct {
	From     string `json:"from"`
	To       string `json:"to"`
	LayoutID int64  `json:"layout_id"`
	Priority int    `json:"priority"`
}

// ToFile persists the schedule so it survives restarts without a CMS.
func (s *Schedule) ToFile(path string) error {
	doc := fileDoc{Intervals: make([]intervalDoc, 0, s.Len())}
	if id, ok := s.Default(); ok {
		doc.Default = &id
	}
	if s != nil {
		for _, iv := range s.intervals {
			doc.Intervals = append(doc.Intervals, intervalDoc{
				From:     iv.From.In(time.Local).Format(TimeFormat),
				To:       iv.To.In(time.Local).Format(TimeFormat),
				LayoutID: iv.LayoutID,
				Priority: iv.Priority,
			})
		}
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write schedule: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write schedule: %w", err)
	}
	return nil
}

func FromFile(path string) (*Schedule, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc fileDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode schedule %s: %w", path, err)
	}

	s := &Schedule{}
	for i, d := range doc.Intervals {
		iv := Interval{LayoutID: d.LayoutID, Priority: d.Priority}
		if iv.From, err = parseTime(d.From); err != nil {
			return nil, fmt.Errorf("schedule interval %d: %w", i, err)
		}
		if iv.To, err = parseTime(d.To); err != nil {
			return nil, fmt.Errorf("schedule interval %d: %w", i, err)
		}
		s.intervals = append(s.intervals, iv)
	}
	if doc.Default != nil {
		s.defaultLayout, s.hasDefault = *doc.Default, true
	}
	return s, nil
}
