package client

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Parse modes accepted by StartSessionRequest.Mode.
const (
	ModeLocal = "local"
	ModeAPI1  = "api1"
	ModeAPI2  = "api2"
)

// Templates accepted by StartSessionRequest.Template.
const (
	TemplateGeneral = "general"
	TemplateCounts  = "counts"
)

// Preview line severities.
const (
	SeverityNormal = "normal"
	SeverityWarn   = "warn"
	SeverityError  = "error"
)

// SessionsClient drives batch-edit sessions.
type SessionsClient struct {
	client *Client
}

// StartSessionRequest opens a session on a dataset. Either Input or
// BulkJSON carries the edit; a blank Mode lets the server choose.
type StartSessionRequest struct {
	DatasetID     string `json:"datasetId"`
	ActivePointID string `json:"activePointId,omitempty"`
	Input         string `json:"input,omitempty"`
	BulkJSON      string `json:"bulkJson,omitempty"`
	Mode          string `json:"mode,omitempty"`
	Template      string `json:"template,omitempty"`
}

// UpdateSessionRequest changes the non-nil fields.
type UpdateSessionRequest struct {
	ActivePointID *string `json:"activePointId,omitempty"`
	Input         *string `json:"input,omitempty"`
	BulkJSON      *string `json:"bulkJson,omitempty"`
	Mode          *string `json:"mode,omitempty"`
	Template      *string `json:"template,omitempty"`
}

// CorrectionDecision answers one pending correction.
type CorrectionDecision struct {
	Kind       string `json:"kind"`
	Raw        string `json:"raw"`
	Adopt      bool   `json:"adopt"`
	Suggestion string `json:"suggestion,omitempty"`
}

// PreviewLine is one line of the simulated outcome.
type PreviewLine struct {
	Text     string `json:"text"`
	Severity string `json:"severity"`
}

// PendingItem is an action waiting on a recoverable condition.
type PendingItem struct {
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// Correction is a fuzzy name match awaiting a decision.
type Correction struct {
	Kind       string   `json:"kind"`
	Raw        string   `json:"raw"`
	Suggestion string   `json:"suggestion"`
	Score      *float64 `json:"score,omitempty"`
	Reason     string   `json:"reason"`
}

// AutoCorrection is a name the server replaced without asking.
type AutoCorrection struct {
	Raw       string  `json:"raw"`
	Canonical string  `json:"canonical"`
	Score     float64 `json:"score"`
}

// Session is the server's view of one batch-edit session.
type Session struct {
	SessionID               string           `json:"sessionId"`
	DatasetID               string           `json:"datasetId"`
	Mode                    string           `json:"mode"`
	UsedMode                string           `json:"usedMode"`
	Template                string           `json:"template"`
	Input                   string           `json:"input"`
	Preview                 []PreviewLine    `json:"preview"`
	Pending                 []PendingItem    `json:"pending"`
	Corrections             []Correction     `json:"corrections"`
	AutoCorrections         []AutoCorrection `json:"autoCorrections"`
	PendingDeleteNames      []string         `json:"pendingDeleteNames"`
	CanApply                bool             `json:"canApply"`
	NeedsDeleteConfirmation bool             `json:"needsDeleteConfirmation"`
	UpdatedAt               time.Time        `json:"updatedAt"`
}

// HasErrors reports whether any preview line is an error.
func (s *Session) HasErrors() bool {
	for _, l := range s.Preview {
		if l.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ApplyOptions carry confirmations for Apply.
type ApplyOptions struct {
	ConfirmDelete bool `json:"confirmDelete"`
}

// ApplyResult reports a committed session.
type ApplyResult struct {
	DatasetID       string         `json:"datasetId"`
	Message         string         `json:"message"`
	Applied         int            `json:"applied"`
	Errors          []string       `json:"errors,omitempty"`
	MergedCount     int            `json:"mergedCount"`
	SnapshotKey     string         `json:"snapshotKey,omitempty"`
	WriteBackErrors []string       `json:"writeBackErrors,omitempty"`
	Dataset         DatasetSummary `json:"dataset"`
}

// Settings are the server-wide batch-edit switches.
type Settings struct {
	RequireConfirm     bool    `json:"requireConfirm"`
	AutoCorrect        bool    `json:"autoCorrect"`
	DefaultVOrigL      float64 `json:"defaultVOrigL"`
	AutoMatchWriteToDb bool    `json:"autoMatchWriteToDb"`
	DefaultMode        string  `json:"defaultMode"`
}

// SettingsPatch changes the non-nil switches.
type SettingsPatch struct {
	RequireConfirm     *bool    `json:"requireConfirm,omitempty"`
	AutoCorrect        *bool    `json:"autoCorrect,omitempty"`
	DefaultVOrigL      *float64 `json:"defaultVOrigL,omitempty"`
	AutoMatchWriteToDb *bool    `json:"autoMatchWriteToDb,omitempty"`
}

func sessionPath(id string, suffix string) string {
	return fmt.Sprintf("/sessions/%s%s", url.PathEscape(id), suffix)
}

// Start opens a session and returns its first preview.
func (s *SessionsClient) Start(ctx context.Context, req *StartSessionRequest) (*Session, error) {
	var out Session
	if err := s.client.post(ctx, "/sessions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get returns the current state of a session.
func (s *SessionsClient) Get(ctx context.Context, sessionID string) (*Session, error) {
	var out Session
	if err := s.client.get(ctx, sessionPath(sessionID, ""), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update edits the session inputs and returns the refreshed preview.
func (s *SessionsClient) Update(ctx context.Context, sessionID string, req *UpdateSessionRequest) (*Session, error) {
	var out Session
	if err := s.client.patch(ctx, sessionPath(sessionID, ""), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reparse drops the cached parse and parses the input again.
func (s *SessionsClient) Reparse(ctx context.Context, sessionID string) (*Session, error) {
	var out Session
	if err := s.client.post(ctx, sessionPath(sessionID, "/reparse"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveCorrection adopts or rejects one pending correction.
func (s *SessionsClient) ResolveCorrection(ctx context.Context, sessionID string, d *CorrectionDecision) (*Session, error) {
	var out Session
	if err := s.client.post(ctx, sessionPath(sessionID, "/corrections"), d, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Apply commits the session to its dataset.
func (s *SessionsClient) Apply(ctx context.Context, sessionID string, opts *ApplyOptions) (*ApplyResult, error) {
	if opts == nil {
		opts = &ApplyOptions{}
	}
	var out ApplyResult
	if err := s.client.post(ctx, sessionPath(sessionID, "/apply"), opts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Close discards a session.
func (s *SessionsClient) Close(ctx context.Context, sessionID string) error {
	return s.client.delete(ctx, sessionPath(sessionID, ""))
}

// Settings returns the server's batch-edit switches.
func (s *SessionsClient) Settings(ctx context.Context) (*Settings, error) {
	var out Settings
	if err := s.client.get(ctx, "/settings", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSettings changes switches and returns the new state.
func (s *SessionsClient) UpdateSettings(ctx context.Context, patch *SettingsPatch) (*Settings, error) {
	var out Settings
	if err := s.client.put(ctx, "/settings", patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
