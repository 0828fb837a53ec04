package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/turtacn/plankton-batchedit/pkg/client"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

func newDatasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dataset",
		Aliases: []string{"datasets", "ds"},
		Short:   "Manage survey datasets",
	}
	cmd.AddCommand(
		newDatasetListCmd(),
		newDatasetShowCmd(),
		newDatasetCreateCmd(),
		newDatasetImportCmd(),
		newDatasetExportCmd(),
		newDatasetDeleteCmd(),
		newDatasetSnapshotCmd(),
	)
	return cmd
}

func newDatasetListCmd() *cobra.Command {
	var page, pageSize int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List datasets, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b Backend) error {
				list, err := b.ListDatasets(ctx, page, pageSize)
				if err != nil {
					return err
				}
				return PrintResult(cmd, datasetListOutput{list})
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "datasets per page")
	return cmd
}

func newDatasetShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <dataset-id>",
		Short: "Show the count matrix of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b Backend) error {
				d, err := b.GetDataset(ctx, args[0])
				if err != nil {
					return err
				}
				return PrintResult(cmd, datasetOutput{d})
			})
		},
	}
}

func newDatasetCreateCmd() *cobra.Command {
	var vOrigL float64
	cmd := &cobra.Command{
		Use:   "create <title-prefix>",
		Short: "Create an empty dataset with one sampling point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &client.CreateDatasetRequest{TitlePrefix: args[0]}
			if cmd.Flags().Changed("v-orig-l") {
				req.DefaultVOrigL = &vOrigL
			}
			return withBackend(cmd, func(ctx context.Context, b Backend) error {
				d, err := b.CreateDataset(ctx, req)
				if err != nil {
					return err
				}
				return PrintResult(cmd, datasetOutput{d})
			})
		},
	}
	cmd.Flags().Float64Var(&vOrigL, "v-orig-l", 0, "original water volume of the first point in litres")
	return cmd
}

func newDatasetImportCmd() *cobra.Command {
	var keepID bool
	cmd := &cobra.Command{
		Use:   "import <file.json|->",
		Short: "Import a dataset document",
		Long: "Import reads a dataset JSON document, as written by export, and stores it.\n" +
			"The dataset gets a new id unless --keep-id is set, in which case an existing\n" +
			"dataset with that id is replaced.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var d client.Dataset
			if err := json.Unmarshal(raw, &d); err != nil {
				return errors.Wrap(err, errors.ErrCodeBadRequest, "invalid dataset document").WithDetail(args[0])
			}
			if !keepID {
				d.ID = ""
			}
			d.ReadOnly = false
			d.SnapshotAt = nil
			d.SnapshotSourceID = ""
			return withBackend(cmd, func(ctx context.Context, b Backend) error {
				if d.ID == "" {
					created, err := b.CreateDataset(ctx, &client.CreateDatasetRequest{TitlePrefix: d.TitlePrefix})
					if err != nil {
						return err
					}
					d.ID = created.ID
				}
				saved, err := b.PutDataset(ctx, &d)
				if err != nil {
					return err
				}
				return PrintResult(cmd, datasetOutput{saved})
			})
		},
	}
	cmd.Flags().BoolVar(&keepID, "keep-id", false, "keep the id from the document")
	return cmd
}

func newDatasetExportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "export <dataset-id>",
		Short: "Write a dataset document as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b Backend) error {
				d, err := b.GetDataset(ctx, args[0])
				if err != nil {
					return err
				}
				raw, err := json.MarshalIndent(d, "", "  ")
				if err != nil {
					return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode dataset")
				}
				raw = append(raw, '\n')
				if file == "" || file == "-" {
					_, err = cmd.OutOrStdout().Write(raw)
					return err
				}
				if err := os.WriteFile(file, raw, 0o644); err != nil {
					return errors.Wrap(err, errors.ErrCodeInternal, "failed to write export").WithDetail(file)
				}
				PrintSuccess(cmd, "exported "+d.ID+" to "+file)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "output file (default: stdout)")
	return cmd
}

func newDatasetDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <dataset-id>",
		Short: "Delete a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b Backend) error {
				if err := b.DeleteDataset(ctx, args[0]); err != nil {
					return err
				}
				PrintSuccess(cmd, "deleted "+args[0])
				return nil
			})
		},
	}
}

func newDatasetSnapshotCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "snapshot <dataset-id>",
		Short: "Archive a read-only copy of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b Backend) error {
				snap, err := b.SnapshotDataset(ctx, args[0], reason)
				if err != nil {
					return err
				}
				if cliCtx, _ := GetCLIContext(cmd); cliCtx != nil && cliCtx.OutputFormat != "text" {
					return PrintResult(cmd, snap)
				}
				PrintSuccess(cmd, "snapshot "+snap.Key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason stored with the snapshot")
	return cmd
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	if name == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(name)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBadRequest, "failed to read input").WithDetail(name)
	}
	return raw, nil
}
