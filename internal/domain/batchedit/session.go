package batchedit

import (
	"strings"
	"time"
)

// Mode selects which parser turns input into actions.
type Mode string

const (
	ModeLocal Mode = "local"
	ModeAPI1  Mode = "api1"
	ModeAPI2  Mode = "api2"
)

// Label is the display name used in warnings.
func (m Mode) Label() string {
	switch m {
	case ModeAPI1:
		return "API1"
	case ModeAPI2:
		return "API2"
	default:
		return "本地规则"
	}
}

// APITag is the provenance tag of species-info cache entries written while
// this mode is active. Empty for local parsing.
func (m Mode) APITag() string {
	switch m {
	case ModeAPI1, ModeAPI2:
		return string(m)
	default:
		return ""
	}
}

// ParseMode reads a mode name, defaulting to local.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAPI1:
		return ModeAPI1
	case ModeAPI2:
		return ModeAPI2
	default:
		return ModeLocal
	}
}

// Template narrows what the assistant is asked to extract.
type Template string

const (
	TemplateGeneral Template = "general"
	TemplateCounts  Template = "counts"
)

func (t Template) Label() string {
	if t == TemplateCounts {
		return "计数模板"
	}
	return "综合模板"
}

// ParseTemplate reads a template name, defaulting to general.
func ParseTemplate(s string) Template {
	if Template(strings.ToLower(strings.TrimSpace(s))) == TemplateCounts {
		return TemplateCounts
	}
	return TemplateGeneral
}

// Settings are the user preferences the resolver and simulator honor.
type Settings struct {
	RequireConfirm     bool
	AutoCorrect        bool
	DefaultVOrigL      float64
	AutoMatchWriteToDb bool
}

// ParsedResult is the cached output of one parse. Re-simulation reuses it so
// an assistant is never called twice for the same input.
type ParsedResult struct {
	Actions  []Action `json:"actions"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Notes    []string `json:"notes,omitempty"`
	Unparsed []string `json:"unparsed,omitempty"`
	// UsedMode is the parser that actually produced Actions after fallback.
	UsedMode Mode `json:"usedMode"`
}

// IsEmpty reports whether nothing at all came out of the parse.
func (p *ParsedResult) IsEmpty() bool {
	return p == nil || (len(p.Actions) == 0 && len(p.Errors) == 0 && len(p.Unparsed) == 0)
}

// ParseSession is the state of one batch-edit dialog: its input, the cached
// parse, and the user's correction decisions. Corrections are scoped to the
// session and keyed by the raw token.
type ParseSession struct {
	ID            string
	DatasetID     string
	ActivePointID string
	Mode          Mode
	Template      Template
	Input         string
	BulkJSON      string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	PointOverrides   map[string]string
	PointKeep        map[string]struct{}
	SpeciesOverrides map[string]string
	SpeciesKeep      map[string]struct{}

	parsed   *ParsedResult
	parseKey string
}

// NewParseSession creates an empty session.
func NewParseSession(id, datasetID string, now time.Time) *ParseSession {
	return &ParseSession{
		ID:               id,
		DatasetID:        datasetID,
		Mode:             ModeLocal,
		Template:         TemplateGeneral,
		CreatedAt:        now,
		UpdatedAt:        now,
		PointOverrides:   make(map[string]string),
		PointKeep:        make(map[string]struct{}),
		SpeciesOverrides: make(map[string]string),
		SpeciesKeep:      make(map[string]struct{}),
	}
}

// ParseKey identifies the parse that the current input would produce: mode,
// template and either the text or, when no text is given, the structured
// action list.
func (s *ParseSession) ParseKey() string {
	source := "text:" + strings.TrimSpace(s.Input)
	if s.usesBulkJSON() {
		source = "json:" + strings.TrimSpace(s.BulkJSON)
	}
	return string(s.Mode) + "|" + string(s.Template) + "|" + source
}

func (s *ParseSession) usesBulkJSON() bool {
	return strings.TrimSpace(s.Input) == "" && strings.TrimSpace(s.BulkJSON) != ""
}

// Cached returns the stored parse when it still matches the input.
func (s *ParseSession) Cached() (*ParsedResult, bool) {
	if s.parsed == nil || s.parseKey != s.ParseKey() {
		return nil, false
	}
	return s.parsed, true
}

// StoreParsed caches p under the current parse key.
func (s *ParseSession) StoreParsed(p *ParsedResult) {
	s.parsed = p
	s.parseKey = s.ParseKey()
}

// EffectiveMode is the parser that produced the cached result, falling back
// to the requested mode.
func (s *ParseSession) EffectiveMode() Mode {
	if s.parsed != nil && s.parsed.UsedMode != "" {
		return s.parsed.UsedMode
	}
	return s.Mode
}

// Adopt accepts suggestion for raw. A previous keep decision is dropped.
func (s *ParseSession) Adopt(kind CorrectionKind, raw, suggestion string) {
	raw = strings.TrimSpace(raw)
	if kind == CorrectionSpecies {
		s.SpeciesOverrides[raw] = suggestion
		delete(s.SpeciesKeep, raw)
		return
	}
	s.PointOverrides[raw] = suggestion
	delete(s.PointKeep, raw)
}

// Keep pins raw to its literal spelling so it is never corrected again in
// this session.
func (s *ParseSession) Keep(kind CorrectionKind, raw string) {
	raw = strings.TrimSpace(raw)
	if kind == CorrectionSpecies {
		s.SpeciesKeep[raw] = struct{}{}
		delete(s.SpeciesOverrides, raw)
		return
	}
	s.PointKeep[raw] = struct{}{}
	delete(s.PointOverrides, raw)
}

func (s *ParseSession) keepsPoint(raw string) bool {
	_, ok := s.PointKeep[raw]
	return ok
}

func (s *ParseSession) keepsSpecies(raw string) bool {
	_, ok := s.SpeciesKeep[raw]
	return ok
}
