package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/plankton-batchedit/internal/bootstrap"
	domainbatch "github.com/turtacn/plankton-batchedit/internal/domain/batchedit"
	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/internal/domain/reference"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/database/postgres"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/storage/minio"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// ─── alias ───────────────────────────────────────────────────────────────────

func newAliasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alias",
		Short: "Manage species name aliases",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List aliases",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
					list, err := rt.Aliases.ListAliases(ctx)
					if err != nil {
						return err
					}
					return PrintResult(cmd, aliasOutput(list))
				})
			},
		},
		&cobra.Command{
			Use:   "set <alias> <canonical>",
			Short: "Map an alias to a canonical species name",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
					if err := rt.Aliases.UpsertAlias(ctx, reference.Alias{Alias: args[0], Canonical: args[1]}); err != nil {
						return err
					}
					PrintSuccess(cmd, fmt.Sprintf("%s -> %s", args[0], args[1]))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:     "delete <alias>",
			Aliases: []string{"rm"},
			Short:   "Remove an alias",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
					if err := rt.Aliases.DeleteAlias(ctx, args[0]); err != nil {
						return err
					}
					PrintSuccess(cmd, "removed "+args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

type aliasOutput []reference.Alias

func (a aliasOutput) TableHeaders() []string { return []string{"ALIAS", "CANONICAL", "UPDATED"} }

func (a aliasOutput) TableRows() [][]string {
	rows := make([][]string, 0, len(a))
	for _, x := range a {
		rows = append(rows, []string{x.Alias, x.Canonical, formatTime(x.UpdatedAt)})
	}
	return rows
}

// ─── snapshot archive ────────────────────────────────────────────────────────

func snapshotArchive(rt *bootstrap.Runtime) (*minio.SnapshotArchive, error) {
	if rt.Snapshots == nil {
		return nil, errors.New(errors.ErrCodeFeatureDisabled, "snapshot archive is not configured").
			WithDetail("enable the minio section")
	}
	return rt.Snapshots, nil
}

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect the object-storage snapshot archive",
	}

	var asNew bool
	restore := &cobra.Command{
		Use:   "restore <key>",
		Short: "Write an archived snapshot back to the dataset store",
		Long: "Restore overwrites the source dataset with the archived copy. With --as-new\n" +
			"the copy is stored as a new dataset instead.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				archive, err := snapshotArchive(rt)
				if err != nil {
					return err
				}
				d, err := archive.Load(ctx, args[0])
				if err != nil {
					return err
				}
				d = restoredDataset(d, asNew, time.Now().UTC())
				if err := rt.Datasets.Save(ctx, d); err != nil {
					return err
				}
				PrintSuccess(cmd, "restored "+args[0]+" as "+d.ID)
				return nil
			})
		},
	}
	restore.Flags().BoolVar(&asNew, "as-new", false, "store the copy under a new dataset id")

	var keep int
	prune := &cobra.Command{
		Use:   "prune <dataset-id>",
		Short: "Delete all but the newest archived snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 0 {
				return errors.InvalidParam("--keep must not be negative")
			}
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				archive, err := snapshotArchive(rt)
				if err != nil {
					return err
				}
				n, err := archive.Prune(ctx, args[0], keep)
				if err != nil {
					return err
				}
				PrintSuccess(cmd, fmt.Sprintf("removed %d snapshot(s)", n))
				return nil
			})
		},
	}
	prune.Flags().IntVar(&keep, "keep", 10, "snapshots to keep")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <dataset-id>",
			Short: "List archived snapshots of a dataset, newest first",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
					archive, err := snapshotArchive(rt)
					if err != nil {
						return err
					}
					objs, err := archive.List(ctx, args[0])
					if err != nil {
						return err
					}
					return PrintResult(cmd, snapshotListOutput(objs))
				})
			},
		},
		restore,
		prune,
	)
	return cmd
}

// restoredDataset prepares an archived copy for writing back. The archive
// holds the live dataset as it was, so only the id may change.
func restoredDataset(d *dataset.Dataset, asNew bool, now time.Time) *dataset.Dataset {
	d.ReadOnly = false
	d.SnapshotAt = nil
	d.SnapshotSourceID = ""
	if asNew {
		d.ID = dataset.NewID()
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Species == nil {
		d.Species = []dataset.Species{}
	}
	return d
}

type snapshotListOutput []minio.SnapshotObject

func (s snapshotListOutput) TableHeaders() []string { return []string{"KEY", "SIZE", "MODIFIED"} }

func (s snapshotListOutput) TableRows() [][]string {
	rows := make([][]string, 0, len(s))
	for _, o := range s {
		rows = append(rows, []string{o.Key, strconv.FormatInt(o.Size, 10), formatTime(o.LastModified)})
	}
	return rows
}

// ─── audit ───────────────────────────────────────────────────────────────────

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <dataset-id>",
		Short: "Show the committed batch edits recorded for a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				if rt.Audit == nil {
					return errors.New(errors.ErrCodeFeatureDisabled, "audit log is not configured").
						WithDetail("enable the minio section")
				}
				history, err := rt.Audit.History(ctx, args[0])
				if err != nil {
					return err
				}
				return PrintResult(cmd, auditOutput(history))
			})
		},
	}
}

type auditOutput []domainbatch.EditsApplied

func (a auditOutput) TableHeaders() []string {
	return []string{"TIME", "SESSION", "MODE", "APPLIED", "KINDS", "ERRORS"}
}

func (a auditOutput) TableRows() [][]string {
	rows := make([][]string, 0, len(a))
	for _, e := range a {
		rows = append(rows, []string{
			formatTime(e.OccurredAt), e.SessionID, string(e.Mode),
			strconv.Itoa(e.Applied), strings.Join(e.Kinds, ","), strconv.Itoa(len(e.Errors)),
		})
	}
	return rows
}

// ─── cache ───────────────────────────────────────────────────────────────────

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the species-info cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached assistant answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				n, err := rt.Cache.Clear(ctx)
				if err != nil {
					return err
				}
				PrintSuccess(cmd, fmt.Sprintf("removed %d cached entr(ies)", n))
				return nil
			})
		},
	})
	return cmd
}

// ─── migrate ─────────────────────────────────────────────────────────────────

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	migrator := func(cmd *cobra.Command) (*postgres.Migrator, error) {
		cliCtx, err := GetCLIContext(cmd)
		if err != nil {
			return nil, err
		}
		if cliCtx.Config.Storage.Driver != "postgres" {
			return nil, errors.InvalidParam("migrations need storage.driver postgres").
				WithDetail(cliCtx.Config.Storage.Driver)
		}
		return postgres.NewMigrator(cliCtx.Config.Database, cliCtx.Logger), nil
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := migrator(cmd)
			if err != nil {
				return err
			}
			if err := m.Down(steps); err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("rolled back %d step(s)", steps))
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := migrator(cmd)
				if err != nil {
					return err
				}
				if err := m.Up(); err != nil {
					return err
				}
				PrintSuccess(cmd, "schema is up to date")
				return nil
			},
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := migrator(cmd)
				if err != nil {
					return err
				}
				st, err := m.Status()
				if err != nil {
					return err
				}
				return PrintResult(cmd, migrationStatus(st))
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Mark a version as applied and clear the dirty flag",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil || version < 0 {
					return errors.InvalidParam("version must be a non-negative integer").WithDetail(args[0])
				}
				m, err := migrator(cmd)
				if err != nil {
					return err
				}
				if err := m.Force(version); err != nil {
					return err
				}
				PrintSuccess(cmd, fmt.Sprintf("schema forced to version %d", version))
				return nil
			},
		},
	)
	return cmd
}

type migrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

func (m migrationStatus) String() string {
	if m.Dirty {
		return fmt.Sprintf("version %d (dirty)\n", m.Version)
	}
	return fmt.Sprintf("version %d\n", m.Version)
}
