package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"forestcensus/internal/core"
	"forestcensus/pkg/domain"
)

func (a *app) reconcileCmd() *cobra.Command {
	var batchPath string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Merge an offline sync batch into the store",
		Long: "Reconcile reads a JSON sync batch (trees, tree_censuses, tree_census_labels, tree_photos) " +
			"and prints the added and deleted record IDs per kind. Use --batch - to read stdin.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			batch, err := readBatch(batchPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return a.mutate(cmd, func(ctx context.Context, svc *core.Service, p domain.Principal) (any, error) {
				return svc.Reconcile(ctx, p, batch)
			})
		},
	}
	cmd.Flags().StringVar(&batchPath, "batch", "", "sync batch JSON file, or - for stdin")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}

func readBatch(path string, stdin io.Reader) (batch domain.SyncBatch, err error) {
	r := stdin
	if path != "-" {
		f, openErr := os.Open(path) // #nosec G304: operator-supplied batch file
		if openErr != nil {
			return domain.SyncBatch{}, fmt.Errorf("open batch: %w", openErr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close batch: %w", cerr)
			}
		}()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&batch); err != nil {
		return domain.SyncBatch{}, fmt.Errorf("decode batch: %w", err)
	}
	return batch, nil
}

func (a *app) photoCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "photo", Short: "Store and fetch tree photos"}

	var upload core.PhotoUpload
	var fullPath, thumbPath string
	attach := &cobra.Command{
		Use:   "attach",
		Short: "Upload a photo for a tree census",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			full, err := os.Open(fullPath) // #nosec G304: operator-supplied image
			if err != nil {
				return fmt.Errorf("open image: %w", err)
			}
			defer func() { _ = full.Close() }()
			upload.Full = full
			if upload.ContentType == "" {
				upload.ContentType = mime.TypeByExtension(filepath.Ext(fullPath))
			}
			if thumbPath != "" {
				thumb, err := os.Open(thumbPath) // #nosec G304: operator-supplied image
				if err != nil {
					return fmt.Errorf("open thumbnail: %w", err)
				}
				defer func() { _ = thumb.Close() }()
				upload.Thumbnail = thumb
			}
			return a.mutate(cmd, func(ctx context.Context, svc *core.Service, p domain.Principal) (any, error) {
				return svc.AttachTreePhoto(ctx, p, upload)
			})
		},
	}
	attach.Flags().StringVar(&upload.ID, "id", "", "photo ID (generated when empty)")
	attach.Flags().StringVar(&upload.TreeCensusID, "tree-census", "", "tree census ID")
	attach.Flags().StringVar(&upload.PurposeCode, "purpose", "", "photo purpose code")
	attach.Flags().StringVar(&upload.ContentType, "content-type", "", "MIME type (guessed from the extension when empty)")
	attach.Flags().StringVar(&fullPath, "full", "", "full-size image file")
	attach.Flags().StringVar(&thumbPath, "thumbnail", "", "thumbnail image file")
	_ = attach.MarkFlagRequired("tree-census")
	_ = attach.MarkFlagRequired("full")

	var ttl time.Duration
	urls := &cobra.Command{
		Use:   "urls <photo-id>",
		Short: "Print fetchable URLs for a photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl < 0 {
				return errors.New("--ttl must not be negative")
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			full, thumb, err := svc.PhotoURLs(cmd.Context(), args[0], ttl)
			if err != nil {
				return err
			}
			return a.print(map[string]string{"full_url": full, "thumbnail_url": thumb})
		},
	}
	urls.Flags().DurationVar(&ttl, "ttl", 15*time.Minute, "lifetime of presigned URLs")

	cmd.AddCommand(attach, urls)
	return cmd
}
