package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/plankton-batchedit/pkg/client"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// editFlags are shared by preview and apply.
type editFlags struct {
	datasetID string
	pointID   string
	mode      string
	template  string
	inputFile string
	bulkFile  string
}

func (f *editFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.datasetID, "dataset", "d", "", "dataset id (required)")
	fl.StringVar(&f.pointID, "point", "", "active point id for edits that name no point")
	fl.StringVar(&f.mode, "mode", "", "parser: local, api1 or api2 (default: server preference)")
	fl.StringVar(&f.template, "template", "", "prompt template for api modes: general or counts")
	fl.StringVarP(&f.inputFile, "file", "f", "", "read the edit text from a file, - for stdin")
	fl.StringVar(&f.bulkFile, "bulk", "", "read a JSON action list instead of text")
	_ = cmd.MarkFlagRequired("dataset")
}

func (f *editFlags) request(cmd *cobra.Command, args []string) (*client.StartSessionRequest, error) {
	req := &client.StartSessionRequest{
		DatasetID:     f.datasetID,
		ActivePointID: f.pointID,
		Mode:          f.mode,
		Template:      f.template,
		Input:         strings.TrimSpace(strings.Join(args, " ")),
	}
	if f.inputFile != "" {
		raw, err := readInput(cmd, f.inputFile)
		if err != nil {
			return nil, err
		}
		req.Input = strings.TrimSpace(string(raw))
	}
	if f.bulkFile != "" {
		raw, err := readInput(cmd, f.bulkFile)
		if err != nil {
			return nil, err
		}
		req.BulkJSON = string(raw)
	}
	if req.Input == "" && req.BulkJSON == "" {
		return nil, errors.InvalidParam("no edit given; pass text, --file or --bulk")
	}
	return req, nil
}

func newEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Preview and apply batch edits",
		Long: "Batch edits are written in free text, e.g. \"1号点的轮虫改为5\", or supplied as a\n" +
			"JSON action list with --bulk.",
	}
	cmd.AddCommand(newEditPreviewCmd(), newEditApplyCmd())
	return cmd
}

func newEditPreviewCmd() *cobra.Command {
	f := &editFlags{}
	cmd := &cobra.Command{
		Use:   "preview [text...]",
		Short: "Parse an edit and show what it would change",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(cmd, args)
			if err != nil {
				return err
			}
			return withBackend(cmd, func(ctx context.Context, b Backend) error {
				s, err := b.StartSession(ctx, req)
				if err != nil {
					return err
				}
				defer closeSession(ctx, b, s.SessionID)
				return PrintResult(cmd, sessionOutput{s})
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newEditApplyCmd() *cobra.Command {
	f := &editFlags{}
	var adoptAll, confirmDelete bool
	cmd := &cobra.Command{
		Use:   "apply [text...]",
		Short: "Parse an edit and commit it",
		Long: "Apply commits an edit only when its preview has no blocking problem. Pending\n" +
			"name corrections block the commit unless --adopt-all accepts every suggestion.",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(cmd, args)
			if err != nil {
				return err
			}
			return withBackend(cmd, func(ctx context.Context, b Backend) error {
				s, err := b.StartSession(ctx, req)
				if err != nil {
					return err
				}
				defer closeSession(ctx, b, s.SessionID)

				if adoptAll {
					if s, err = adoptCorrections(ctx, b, s); err != nil {
						return err
					}
				}
				if !s.CanApply {
					_ = printText(cmd, sessionOutput{s})
					return errors.New(errors.ErrCodeApplyBlocked, "edit cannot be applied yet").
						WithDetail("resolve the corrections and errors shown in the preview")
				}
				if s.NeedsDeleteConfirmation && !confirmDelete {
					_ = printText(cmd, sessionOutput{s})
					return errors.New(errors.ErrCodeApplyBlocked, "edit deletes species").
						WithDetail("pass --confirm-delete to remove " + strings.Join(s.PendingDeleteNames, ", "))
				}
				res, err := b.Apply(ctx, s.SessionID, &client.ApplyOptions{ConfirmDelete: confirmDelete})
				if err != nil {
					return err
				}
				return PrintResult(cmd, applyOutput{res})
			})
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&adoptAll, "adopt-all", false, "accept every suggested name correction")
	cmd.Flags().BoolVar(&confirmDelete, "confirm-delete", false, "allow the edit to delete species")
	return cmd
}

// adoptCorrections accepts suggestions until none are pending. Each
// decision may surface new ones, so the loop is bounded by the first count
// plus the corrections it uncovers.
func adoptCorrections(ctx context.Context, b Backend, s *client.Session) (*client.Session, error) {
	seen := make(map[string]struct{})
	for len(s.Corrections) > 0 {
		c := s.Corrections[0]
		key := c.Kind + "\x00" + c.Raw
		if _, dup := seen[key]; dup {
			return nil, errors.New(errors.ErrCodeApplyBlocked, "correction did not resolve").WithDetail(c.Raw)
		}
		seen[key] = struct{}{}
		next, err := b.ResolveCorrection(ctx, s.SessionID, &client.CorrectionDecision{
			Kind: c.Kind, Raw: c.Raw, Adopt: true, Suggestion: c.Suggestion,
		})
		if err != nil {
			return nil, err
		}
		s = next
	}
	return s, nil
}

func closeSession(ctx context.Context, b Backend, id string) {
	_ = b.CloseSession(context.WithoutCancel(ctx), id)
}

func newSettingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show the batch-edit settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b Backend) error {
				s, err := b.Settings(ctx)
				if err != nil {
					return err
				}
				return PrintResult(cmd, settingsOutput{s})
			})
		},
	}
}

type settingsOutput struct {
	*client.Settings
}

func (s settingsOutput) TableHeaders() []string { return []string{"SETTING", "VALUE"} }

func (s settingsOutput) TableRows() [][]string {
	return [][]string{
		{"require_confirm", yesNo(s.RequireConfirm)},
		{"auto_correct", yesNo(s.AutoCorrect)},
		{"default_v_orig_l", strconvFloat(s.DefaultVOrigL)},
		{"auto_match_write_to_db", yesNo(s.AutoMatchWriteToDb)},
		{"default_mode", s.DefaultMode},
	}
}
