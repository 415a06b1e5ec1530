package platform

import (
	"context"
	"fmt"

	"github.com/carbocation/pfx"

	"github.com/naccdata/clariti-advanced-mri/internal/ledger"
	"github.com/naccdata/clariti-advanced-mri/internal/observability"
	"github.com/naccdata/clariti-advanced-mri/internal/repack"
)

// Uploader pushes produced bundles to the platform in repackager output
// order. Each success is recorded in the ledger; bundles the ledger already
// marks uploaded are skipped, which is what makes whole-run retries safe.
type Uploader struct {
	client       PlatformClient
	ledger       *ledger.Ledger
	log          *observability.Logger
	projectLabel string
}

func NewUploader(client PlatformClient, led *ledger.Ledger, log *observability.Logger, projectLabel string) *Uploader {
	return &Uploader{
		client:       client,
		ledger:       led,
		log:          log,
		projectLabel: projectLabel,
	}
}

// UploadAll walks the result's bundles in order. A failed upload aborts; the
// ledger preserves which bundles already made it, so the caller can simply
// re-run.
func (u *Uploader) UploadAll(ctx context.Context, result *repack.Result) error {
	project, err := u.client.FindProject(ctx, u.projectLabel)
	if err != nil {
		return pfx.Err(err)
	}

	for _, bundle := range result.Bundles {
		done, err := u.ledger.IsUploaded(bundle.SubjectLabel, bundle.SeriesInstanceUID)
		if err != nil {
			return pfx.Err(err)
		}
		if done {
			u.log.Info("bundle already uploaded, skipping", map[string]string{
				"subject": bundle.SubjectLabel,
				"series":  bundle.SeriesInstanceUID,
			})
			continue
		}

		subj, err := u.client.EnsureSubject(ctx, project.ID, bundle.SubjectLabel)
		if err != nil {
			return pfx.Err(err)
		}

		sess, err := u.client.EnsureSession(ctx, subj.ID, sessionLabel(bundle))
		if err != nil {
			return pfx.Err(err)
		}

		metadata := map[string]string{
			"type":   "dicom",
			"series": bundle.SeriesInstanceUID,
		}
		if err := u.client.UploadBundle(ctx, sess.ID, bundle.Path, metadata); err != nil {
			return pfx.Err(err)
		}

		if err := u.ledger.RecordUpload(result.RunID, bundle.SubjectLabel, bundle.SeriesInstanceUID, bundle.Path); err != nil {
			return pfx.Err(err)
		}

		u.log.Info("bundle uploaded", map[string]string{
			"subject": bundle.SubjectLabel,
			"series":  bundle.SeriesInstanceUID,
			"bundle":  bundle.Path,
		})
	}

	return nil
}

// sessionLabel names the visit container. Without a study date we fall back
// to a per-subject default rather than refusing the upload.
func sessionLabel(b repack.SeriesBundle) string {
	if b.StudyDate.Valid {
		return fmt.Sprintf("%s_%s", b.SubjectLabel, b.StudyDate.String)
	}
	return fmt.Sprintf("%s_visit", b.SubjectLabel)
}
