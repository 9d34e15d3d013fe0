package core

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"forestcensus/internal/blob"
	"forestcensus/pkg/domain"
)

const photoKeyRoot = "photos"

// PhotoUpload carries photo bytes for a tree census.
type PhotoUpload struct {
	ID           string // optional client-generated photo ID
	TreeCensusID string
	PurposeCode  string
	ContentType  string
	Full         io.Reader
	Thumbnail    io.Reader // optional
}

func photoPrefix(treeCensusID string) string {
	return path.Join(photoKeyRoot, treeCensusID) + "/"
}

func photoKey(treeCensusID, photoID, variant string) string {
	return path.Join(photoKeyRoot, treeCensusID, photoID, variant)
}

// AttachTreePhoto stores the full image and thumbnail concurrently under
// photos/<treeCensusID>/<photoID>/ and records a TreePhoto whose URLs are the
// blob keys. Uploaded blobs are removed again if the record cannot be stored.
func (s *Service) AttachTreePhoto(ctx context.Context, p Principal, upload PhotoUpload) (TreePhoto, error) {
	if s.blobs == nil {
		return TreePhoto{}, errNoBlobStore
	}
	if upload.Full == nil {
		return TreePhoto{}, &domain.ValidationError{Entity: EntityTreePhoto, Field: "full", Reason: "image data is required"}
	}
	photoID := upload.ID
	if photoID == "" {
		photoID = s.newID()
	}
	if err := s.view(ctx, func(v domain.TransactionView) error {
		_, err := photoOwner(v, p, upload.TreeCensusID, photoID)
		return err
	}); err != nil {
		return TreePhoto{}, err
	}

	fullKey := photoKey(upload.TreeCensusID, photoID, "full")
	thumbKey := ""
	if upload.Thumbnail != nil {
		thumbKey = photoKey(upload.TreeCensusID, photoID, "thumb")
	}
	opts := blob.PutOptions{
		ContentType: upload.ContentType,
		Metadata:    map[string]string{"tree_census_id": upload.TreeCensusID, "purpose": upload.PurposeCode},
	}
	var fullStored, thumbStored bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.blobs.Put(gctx, fullKey, upload.Full, opts)
		fullStored = err == nil
		return err
	})
	if thumbKey != "" {
		g.Go(func() error {
			_, err := s.blobs.Put(gctx, thumbKey, upload.Thumbnail, opts)
			thumbStored = err == nil
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if fullStored {
			s.discardBlobs(ctx, fullKey)
		}
		if thumbStored {
			s.discardBlobs(ctx, thumbKey)
		}
		return TreePhoto{}, err
	}

	var created TreePhoto
	_, err := s.run(ctx, "attach_tree_photo", p, func(tx domain.Transaction) (string, error) {
		if _, err := photoOwner(tx, p, upload.TreeCensusID, photoID); err != nil {
			return photoID, err
		}
		var err error
		created, err = tx.CreateTreePhoto(TreePhoto{
			Base:         Base{ID: photoID},
			TreeCensusID: upload.TreeCensusID,
			FullURL:      fullKey,
			ThumbnailURL: thumbKey,
			PurposeCode:  upload.PurposeCode,
		})
		return photoID, err
	})
	if err != nil {
		if !s.photoOwnsKey(ctx, photoID, fullKey) {
			s.discardBlobs(ctx, fullKey, thumbKey)
		}
		return TreePhoto{}, err
	}
	return created, nil
}

// photoOwnsKey reports whether a committed photo record already references
// fullKey. Such blobs belong to that record and must not be discarded.
func (s *Service) photoOwnsKey(ctx context.Context, photoID, fullKey string) bool {
	owned := false
	err := s.view(ctx, func(v domain.TransactionView) error {
		existing, ok := v.FindTreePhoto(photoID)
		owned = ok && existing.FullURL == fullKey
		return nil
	})
	return err == nil && owned
}

func photoOwner(v domain.TransactionView, p Principal, treeCensusID, photoID string) (TreeCensus, error) {
	tc, ok := v.FindTreeCensus(treeCensusID)
	if !ok {
		return TreeCensus{}, &domain.ConstraintError{Constraint: domain.ConstraintForeignKey, Entity: EntityTreePhoto, ID: photoID, Detail: "tree census " + treeCensusID + " does not exist"}
	}
	pc, ok := v.FindPlotCensus(tc.PlotCensusID)
	if !ok {
		return TreeCensus{}, notFound(EntityPlotCensus, tc.PlotCensusID)
	}
	if !pc.Status.Editable() {
		return TreeCensus{}, invalidTransition(pc, domain.PlotCensusInProgress)
	}
	if err := requireHolder(p, pc); err != nil {
		return TreeCensus{}, err
	}
	return tc, nil
}

// PhotoURLs returns fetchable URLs for a photo. Blob keys are presigned when
// the driver supports it and returned as-is otherwise; URLs a client supplied
// through sync pass through untouched.
func (s *Service) PhotoURLs(ctx context.Context, photoID string, ttl time.Duration) (full, thumbnail string, err error) {
	photo, err := find(ctx, s, EntityTreePhoto, photoID, domain.TransactionView.FindTreePhoto)
	if err != nil {
		return "", "", err
	}
	if full, err = s.resolvePhotoURL(ctx, photo.FullURL, ttl); err != nil {
		return "", "", err
	}
	if thumbnail, err = s.resolvePhotoURL(ctx, photo.ThumbnailURL, ttl); err != nil {
		return "", "", err
	}
	return full, thumbnail, nil
}

func (s *Service) resolvePhotoURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	if ref == "" || s.blobs == nil || !strings.HasPrefix(ref, photoKeyRoot+"/") {
		return ref, nil
	}
	url, err := s.blobs.PresignURL(ctx, ref, blob.SignedURLOptions{Method: "GET", Expiry: ttl})
	if errors.Is(err, blob.ErrUnsupported) {
		return ref, nil
	}
	return url, err
}

// purgePhotoBlobs removes stored photo blobs of deleted tree censuses. Failures
// are logged; the records are already gone.
func (s *Service) purgePhotoBlobs(ctx context.Context, treeCensusIDs []string) {
	if s.blobs == nil {
		return
	}
	for _, id := range treeCensusIDs {
		n, err := blob.DeletePrefix(ctx, s.blobs, photoPrefix(id))
		if err != nil {
			s.logger.Warn("photo blob purge failed", "tree_census_id", id, "error", err)
			continue
		}
		if n > 0 {
			s.logger.Debug("purged photo blobs", "tree_census_id", id, "count", n)
		}
	}
}

func (s *Service) discardBlobs(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn("discard photo blob failed", "key", key, "error", err)
		}
	}
}
