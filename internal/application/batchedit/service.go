// Package batchedit orchestrates batch-edit sessions: parse, preview,
// correction round trips and commit.
package batchedit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	domainbatch "github.com/turtacn/plankton-batchedit/internal/domain/batchedit"
	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/internal/domain/reference"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

const snapshotReasonBatchEdit = "批量编辑前"

// Service is the batch-edit use case surface consumed by the HTTP and CLI
// adapters.
type Service interface {
	StartSession(ctx context.Context, req *StartRequest) (*SessionView, error)
	UpdateSession(ctx context.Context, sessionID string, req *UpdateRequest) (*SessionView, error)
	GetSession(ctx context.Context, sessionID string) (*SessionView, error)
	Reparse(ctx context.Context, sessionID string) (*SessionView, error)
	ResolveCorrection(ctx context.Context, sessionID string, d *CorrectionDecision) (*SessionView, error)
	Apply(ctx context.Context, sessionID string, opts *ApplyOptions) (*ApplyResult, error)
	CloseSession(ctx context.Context, sessionID string) error
	Settings() domainbatch.Settings
	UpdateSettings(s domainbatch.Settings)
	DefaultMode() domainbatch.Mode
}

// StartRequest opens a session. Mode and Template are names; blank Mode
// selects the preferred configured parser.
type StartRequest struct {
	DatasetID     string `json:"datasetId"`
	ActivePointID string `json:"activePointId"`
	Input         string `json:"input"`
	BulkJSON      string `json:"bulkJson"`
	Mode          string `json:"mode"`
	Template      string `json:"template"`
}

// UpdateRequest changes the fields that are non-nil. Any change to the
// input, mode or template invalidates the cached parse.
type UpdateRequest struct {
	ActivePointID *string `json:"activePointId"`
	Input         *string `json:"input"`
	BulkJSON      *string `json:"bulkJson"`
	Mode          *string `json:"mode"`
	Template      *string `json:"template"`
}

// CorrectionDecision answers one pending correction. Adopt false keeps the
// raw spelling. A blank Suggestion adopts the proposed one.
type CorrectionDecision struct {
	Kind       domainbatch.CorrectionKind `json:"kind"`
	Raw        string                     `json:"raw"`
	Adopt      bool                       `json:"adopt"`
	Suggestion string                     `json:"suggestion"`
}

// ApplyOptions carry the caller's confirmations.
type ApplyOptions struct {
	ConfirmDelete bool `json:"confirmDelete"`
}

// SessionView is what a client renders for a session.
type SessionView struct {
	SessionID               string                          `json:"sessionId"`
	DatasetID               string                          `json:"datasetId"`
	Mode                    domainbatch.Mode                `json:"mode"`
	UsedMode                domainbatch.Mode                `json:"usedMode"`
	Template                domainbatch.Template            `json:"template"`
	Input                   string                          `json:"input"`
	Preview                 []domainbatch.PreviewLine       `json:"preview"`
	Pending                 []domainbatch.PendingItem       `json:"pending"`
	Corrections             []domainbatch.PendingCorrection `json:"corrections"`
	AutoCorrections         []domainbatch.NameCorrection    `json:"autoCorrections"`
	PendingDeleteNames      []string                        `json:"pendingDeleteNames"`
	CanApply                bool                            `json:"canApply"`
	NeedsDeleteConfirmation bool                            `json:"needsDeleteConfirmation"`
	UpdatedAt               time.Time                       `json:"updatedAt"`
}

// ApplyResult reports a commit.
type ApplyResult struct {
	DatasetID       string          `json:"datasetId"`
	Message         string          `json:"message"`
	Applied         int             `json:"applied"`
	Errors          []string        `json:"errors,omitempty"`
	MergedCount     int             `json:"mergedCount"`
	SnapshotKey     string          `json:"snapshotKey,omitempty"`
	WriteBackErrors []string        `json:"writeBackErrors,omitempty"`
	Dataset         dataset.Summary `json:"dataset"`
}

// Dependencies are the collaborators of the service. Datasets is required;
// every other field may be nil.
type Dependencies struct {
	Datasets   dataset.Repository
	Aliases    reference.AliasStore
	WetWeights reference.WetWeightLibrary
	Taxonomy   reference.TaxonomyLibrary
	Cache      reference.SpeciesInfoCache
	Parser     *domainbatch.Parser
	Locker     Locker
	Archiver   SnapshotArchiver
	Events     EventPublisher
	Metrics    Metrics
	Sessions   *SessionStore
	Logger     logging.Logger
	Now        func() time.Time
}

type serviceImpl struct {
	deps     Dependencies
	sessions *SessionStore
	parser   *domainbatch.Parser
	metrics  Metrics
	logger   logging.Logger
	now      func() time.Time

	settingsMu sync.RWMutex
	settings   domainbatch.Settings
}

// NewService creates the batch-edit application service.
func NewService(deps Dependencies, settings domainbatch.Settings) Service {
	s := &serviceImpl{
		deps:     deps,
		sessions: deps.Sessions,
		parser:   deps.Parser,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Now,
		settings: settings,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.sessions == nil {
		s.sessions = NewSessionStore(0, 0, s.now)
	}
	if s.parser == nil {
		s.parser = &domainbatch.Parser{}
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	s.logger = s.logger.Named("batchedit")
	return s
}

func (s *serviceImpl) Settings() domainbatch.Settings {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings
}

func (s *serviceImpl) UpdateSettings(next domainbatch.Settings) {
	s.settingsMu.Lock()
	s.settings = next
	s.settingsMu.Unlock()
	s.logger.Info("batch-edit settings updated",
		logging.Bool("require_confirm", next.RequireConfirm),
		logging.Bool("auto_correct", next.AutoCorrect),
	)
}

func (s *serviceImpl) DefaultMode() domainbatch.Mode {
	return domainbatch.PreferredMode(s.parser.Configured())
}

func (s *serviceImpl) modeFor(name string) domainbatch.Mode {
	if strings.TrimSpace(name) == "" {
		return s.DefaultMode()
	}
	return domainbatch.ParseMode(name)
}

func (s *serviceImpl) StartSession(ctx context.Context, req *StartRequest) (*SessionView, error) {
	if req == nil || strings.TrimSpace(req.DatasetID) == "" {
		return nil, errors.InvalidParam("datasetId is required")
	}
	d, err := s.deps.Datasets.Get(ctx, req.DatasetID)
	if err != nil {
		return nil, err
	}

	sess := domainbatch.NewParseSession(uuid.NewString(), d.ID, s.now())
	sess.ActivePointID = req.ActivePointID
	sess.Mode = s.modeFor(req.Mode)
	sess.Template = domainbatch.ParseTemplate(req.Template)
	sess.Input = req.Input
	sess.BulkJSON = req.BulkJSON

	entry := &sessionEntry{session: sess}
	if err := s.refresh(ctx, entry, d); err != nil {
		return nil, err
	}
	s.sessions.Put(sess, entry.sim)
	s.metrics.RecordSessionStarted(string(sess.Mode))
	s.logger.Info("batch-edit session started",
		logging.SessionID(sess.ID),
		logging.DatasetID(d.ID),
		logging.String("mode", string(sess.Mode)),
	)
	return s.view(entry), nil
}

func (s *serviceImpl) UpdateSession(ctx context.Context, sessionID string, req *UpdateRequest) (*SessionView, error) {
	entry, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	sess := entry.session
	if req != nil {
		if req.ActivePointID != nil {
			sess.ActivePointID = *req.ActivePointID
		}
		if req.Input != nil {
			sess.Input = *req.Input
		}
		if req.BulkJSON != nil {
			sess.BulkJSON = *req.BulkJSON
		}
		if req.Mode != nil {
			sess.Mode = s.modeFor(*req.Mode)
		}
		if req.Template != nil {
			sess.Template = domainbatch.ParseTemplate(*req.Template)
		}
	}
	sess.UpdatedAt = s.now()
	if err := s.refresh(ctx, entry, nil); err != nil {
		return nil, err
	}
	return s.view(entry), nil
}

func (s *serviceImpl) GetSession(_ context.Context, sessionID string) (*SessionView, error) {
	entry, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return s.view(entry), nil
}

func (s *serviceImpl) Reparse(ctx context.Context, sessionID string) (*SessionView, error) {
	entry, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := s.refresh(ctx, entry, nil); err != nil {
		return nil, err
	}
	return s.view(entry), nil
}

func (s *serviceImpl) ResolveCorrection(ctx context.Context, sessionID string, d *CorrectionDecision) (*SessionView, error) {
	if d == nil || strings.TrimSpace(d.Raw) == "" {
		return nil, errors.InvalidParam("correction raw token is required")
	}
	entry, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	raw := strings.TrimSpace(d.Raw)
	var match *domainbatch.PendingCorrection
	if entry.sim != nil {
		for i := range entry.sim.Corrections {
			c := &entry.sim.Corrections[i]
			if c.Kind == d.Kind && c.Raw == raw {
				match = c
				break
			}
		}
	}
	if match == nil {
		return nil, errors.New(errors.ErrCodeCorrectionNotFound, "no pending correction for token").WithDetail(raw)
	}

	if d.Adopt {
		suggestion := strings.TrimSpace(d.Suggestion)
		if suggestion == "" {
			suggestion = match.Suggestion
		}
		entry.session.Adopt(d.Kind, raw, suggestion)
	} else {
		entry.session.Keep(d.Kind, raw)
	}
	entry.session.UpdatedAt = s.now()
	s.logger.Debug("correction resolved",
		logging.SessionID(sessionID),
		logging.String("kind", string(d.Kind)),
		logging.String("raw", raw),
		logging.Bool("adopt", d.Adopt),
	)

	if err := s.refresh(ctx, entry, nil); err != nil {
		return nil, err
	}
	return s.view(entry), nil
}

func (s *serviceImpl) Apply(ctx context.Context, sessionID string, opts *ApplyOptions) (*ApplyResult, error) {
	if opts == nil {
		opts = &ApplyOptions{}
	}
	started := s.now()
	entry, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	sess := entry.session
	log := s.logger.With(logging.SessionID(sess.ID), logging.DatasetID(sess.DatasetID))

	if s.deps.Locker != nil {
		release, err := s.deps.Locker.Acquire(ctx, sess.DatasetID)
		if err != nil {
			s.metrics.RecordApply(OutcomeFailed, 0, 0, s.now().Sub(started))
			return nil, errors.Wrap(err, errors.ErrCodeDatasetLocked, "dataset is being edited elsewhere")
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("release dataset lock", logging.Err(err))
			}
		}()
	}

	current, err := s.deps.Datasets.Get(ctx, sess.DatasetID)
	if err != nil {
		s.metrics.RecordApply(OutcomeFailed, 0, 0, s.now().Sub(started))
		return nil, err
	}
	if current.ReadOnly {
		return nil, errors.New(errors.ErrCodeDatasetReadOnly, "dataset is a read-only snapshot").WithDetail(current.ID)
	}

	// Bind against what is stored now, not what was loaded at preview time.
	if err := s.refresh(ctx, entry, current); err != nil {
		return nil, err
	}
	settings := s.Settings()
	if settings.RequireConfirm && len(entry.sim.Corrections) > 0 {
		s.metrics.RecordApply(OutcomeBlocked, 0, 0, s.now().Sub(started))
		return nil, errors.New(errors.ErrCodeApplyBlocked, "pending corrections must be resolved before applying")
	}
	if len(entry.sim.Edits) == 0 {
		s.metrics.RecordApply(OutcomeEmpty, 0, 0, s.now().Sub(started))
		return nil, errors.New(errors.ErrCodeNothingToApply, "没有可应用的指令")
	}

	aliases := reference.AliasMap(ctx, s.deps.Aliases)
	mode := s.parser.AutofillMode(sess.EffectiveMode())
	committer := &domainbatch.Committer{
		WetWeights: s.deps.WetWeights,
		Taxonomy:   s.deps.Taxonomy,
		Cache:      s.deps.Cache,
		Assistant:  s.parser.Endpoint(mode),
		APITag:     mode.APITag(),
		Now:        s.now,
	}
	res, err := committer.Commit(ctx, current, entry.sim.Edits, domainbatch.CommitOptions{
		ConfirmDelete: opts.ConfirmDelete,
		Aliases:       aliases,
	})
	if err != nil {
		s.metrics.RecordApply(OutcomeFailed, 0, 0, s.now().Sub(started))
		return nil, err
	}

	out := &ApplyResult{
		DatasetID:   current.ID,
		Message:     res.Message,
		Applied:     len(res.Applied),
		Errors:      res.Errors,
		MergedCount: res.MergedCount,
		Dataset:     current.Summary(),
	}
	if !res.Changed() {
		s.metrics.RecordApply(OutcomeEmpty, 0, len(res.Errors), s.now().Sub(started))
		return out, nil
	}

	if s.deps.Archiver != nil {
		key, err := s.deps.Archiver.Archive(ctx, current, snapshotReasonBatchEdit)
		if err != nil {
			log.Warn("archive pre-commit snapshot", logging.Err(err))
		}
		out.SnapshotKey = key
	}

	next := res.Dataset
	next.UpdatedAt = s.now()
	if err := s.deps.Datasets.Save(ctx, next); err != nil {
		s.metrics.RecordApply(OutcomeFailed, 0, 0, s.now().Sub(started))
		return nil, err
	}
	out.Dataset = next.Summary()

	for _, werr := range committer.WriteBack(ctx, res) {
		log.Warn("reference write-back failed", logging.Err(werr))
		out.WriteBackErrors = append(out.WriteBackErrors, werr.Error())
	}

	if s.deps.Events != nil {
		evt := domainbatch.NewEditsApplied(next.ID, sess.ID, sess.EffectiveMode(), res, out.SnapshotKey, s.now())
		if err := s.deps.Events.PublishEditsApplied(ctx, evt); err != nil {
			log.Warn("publish edits applied", logging.Err(err))
		}
	}

	outcome := OutcomeApplied
	if len(res.Errors) > 0 {
		outcome = OutcomePartial
	}
	s.metrics.RecordApply(outcome, out.Applied, len(res.Errors), s.now().Sub(started))
	log.Info("batch edits applied",
		logging.Int("applied", out.Applied),
		logging.Int("errors", len(res.Errors)),
		logging.Int("merged", res.MergedCount),
	)

	s.sessions.Delete(sess.ID)
	return out, nil
}

func (s *serviceImpl) CloseSession(_ context.Context, sessionID string) error {
	if !s.sessions.Delete(sessionID) {
		return errors.New(errors.ErrCodeSessionNotFound, "batch-edit session not found").WithDetail(sessionID)
	}
	s.logger.Debug("batch-edit session closed", logging.SessionID(sessionID))
	return nil
}

// refresh parses (or reuses the cached parse) and re-simulates against d,
// loading the dataset when d is nil. Caller holds entry.mu.
func (s *serviceImpl) refresh(ctx context.Context, entry *sessionEntry, d *dataset.Dataset) error {
	sess := entry.session
	if d == nil {
		var err error
		if d, err = s.deps.Datasets.Get(ctx, sess.DatasetID); err != nil {
			return err
		}
	}

	aliases := reference.AliasMap(ctx, s.deps.Aliases)
	_, cached := sess.Cached()
	parsed, err := s.parser.Parse(ctx, sess, d, aliases)
	if err != nil {
		return err
	}
	if !cached {
		s.metrics.RecordParse(string(sess.Mode), string(parsed.UsedMode), len(parsed.Warnings))
	}

	settings := s.Settings()
	sim := domainbatch.Simulate(domainbatch.SimulationInput{
		Dataset:        d,
		Parsed:         parsed,
		Session:        sess,
		Settings:       settings,
		Aliases:        aliases,
		NameCandidates: reference.NameCandidates(ctx, d, s.deps.WetWeights, s.deps.Taxonomy),
	})
	entry.sim = sim
	s.metrics.RecordPreview(sim.Preview, len(sim.Pending), len(sim.Corrections))
	return nil
}

func (s *serviceImpl) view(entry *sessionEntry) *SessionView {
	sess := entry.session
	v := &SessionView{
		SessionID: sess.ID,
		DatasetID: sess.DatasetID,
		Mode:      sess.Mode,
		UsedMode:  sess.EffectiveMode(),
		Template:  sess.Template,
		Input:     sess.Input,
		UpdatedAt: sess.UpdatedAt,
	}
	if sim := entry.sim; sim != nil {
		v.Preview = sim.Preview
		v.Pending = sim.Pending
		v.Corrections = sim.Corrections
		v.AutoCorrections = sim.AutoCorrections
		v.PendingDeleteNames = sim.PendingDeleteNames
		v.CanApply = sim.CanApply(s.Settings().RequireConfirm)
		v.NeedsDeleteConfirmation = sim.NeedsDeleteConfirmation()
	}
	return v
}
