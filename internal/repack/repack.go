// Package repack partitions a zip archive of loose dicom files into one zip
// per series. Grouping is keyed on SeriesInstanceUID; the subject label is
// derived from each entry's path. No instance may be dropped, duplicated, or
// assigned to the wrong series during repackaging.
package repack

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"

	"github.com/naccdata/clariti-advanced-mri/internal/dicommeta"
	"github.com/naccdata/clariti-advanced-mri/internal/observability"
	"github.com/naccdata/clariti-advanced-mri/internal/subject"
)

// Repackager builds per-series bundles from a source archive. It holds no
// per-run state; one value can serve many runs.
type Repackager struct {
	resolver *subject.Resolver
	log      *observability.Logger
	metrics  *observability.Metrics
	outDir   string
}

func New(resolver *subject.Resolver, log *observability.Logger, metrics *observability.Metrics, outDir string) *Repackager {
	return &Repackager{
		resolver: resolver,
		log:      log,
		metrics:  metrics,
		outDir:   outDir,
	}
}

// Repackage scans sourceZip in its natural entry order, groups entries into
// series, and writes one bundle zip per series into the output directory.
// Per-file problems are reported in the result and skipped; a subject mismatch
// within one series aborts the run with zero bundles written. The scoped
// working directory is removed on every exit path.
func (r *Repackager) Repackage(ctx context.Context, sourceZip string) (*Result, error) {
	started := time.Now()
	defer func() {
		r.metrics.RunDuration.Observe(time.Since(started).Seconds())
	}()

	runID := uuid.NewString()
	log := r.log.WithRun(runID).WithArchive(sourceZip)

	rc, err := zip.OpenReader(sourceZip)
	if err != nil {
		return nil, &ArchiveOpenError{Path: sourceZip, Err: err}
	}
	defer rc.Close()

	workDir, err := os.MkdirTemp("", "repack-")
	if err != nil {
		return nil, &ResourceError{Path: "workdir", Err: err}
	}
	defer os.RemoveAll(workDir)

	result := &Result{RunID: runID}

	groups := map[string]*Series{}
	extracted := map[string]string{}
	seenPaths := map[string]bool{}

	for i, f := range rc.File {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if f.FileInfo().IsDir() {
			continue
		}

		r.metrics.EntriesScanned.Inc()

		// Zip archives may legally repeat an entry name. Membership is
		// unique by archive path, so only the first occurrence counts.
		if seenPaths[f.Name] {
			log.Warn("skipping repeated archive path", map[string]string{
				"entry": f.Name,
			})
			r.metrics.FilesSkipped.WithLabelValues(string(SkipDuplicatePath)).Inc()
			result.Skipped = append(result.Skipped, SkippedFile{
				ArchivePath: f.Name,
				Reason:      SkipDuplicatePath,
				Detail:      "archive path already seen earlier in the archive",
			})
			continue
		}
		seenPaths[f.Name] = true

		tmpPath := filepath.Join(workDir, fmt.Sprintf("%06d.dcm", i))
		if err := extractEntry(f, tmpPath); err != nil {
			return nil, &ResourceError{Path: f.Name, Err: err}
		}

		meta, err := dicommeta.Extract(tmpPath)
		if err != nil {
			log.Warn("skipping entry without usable metadata", map[string]string{
				"entry": f.Name, "error": err.Error(),
			})
			r.metrics.FilesSkipped.WithLabelValues(string(SkipMetadata)).Inc()
			result.Skipped = append(result.Skipped, SkippedFile{
				ArchivePath: f.Name,
				Reason:      SkipMetadata,
				Detail:      err.Error(),
			})
			continue
		}

		label, ok := r.resolver.Resolve(f.Name)
		if !ok {
			log.Warn("skipping entry with no resolvable subject", map[string]string{
				"entry": f.Name, "series": meta.SeriesInstanceUID,
			})
			r.metrics.FilesSkipped.WithLabelValues(string(SkipNoSubject)).Inc()
			result.Skipped = append(result.Skipped, SkippedFile{
				ArchivePath: f.Name,
				Reason:      SkipNoSubject,
				Detail:      "no path segment matched the subject token",
			})
			continue
		}

		record := DicomRecord{
			ArchivePath:       f.Name,
			SeriesInstanceUID: meta.SeriesInstanceUID,
			SeriesNumber:      meta.SeriesNumber,
			StudyDate:         meta.StudyDate,
			SubjectLabel:      label,
		}

		group, seen := groups[record.SeriesInstanceUID]
		if !seen {
			groups[record.SeriesInstanceUID] = &Series{
				SeriesInstanceUID: record.SeriesInstanceUID,
				SubjectLabel:      record.SubjectLabel,
				SeriesNumber:      record.SeriesNumber,
				Members:           []DicomRecord{record},
			}
		} else {
			if group.SubjectLabel != record.SubjectLabel {
				r.metrics.IntegrityFailures.Inc()
				log.Debug("conflicting record", map[string]string{"record": spew.Sdump(record)})
				return nil, &SeriesIntegrityError{
					SeriesInstanceUID: record.SeriesInstanceUID,
					Subjects:          [2]string{group.SubjectLabel, record.SubjectLabel},
					Entries:           [2]string{group.Members[0].ArchivePath, record.ArchivePath},
				}
			}

			if !group.SeriesNumber.Valid {
				group.SeriesNumber = record.SeriesNumber
			}
			group.Members = append(group.Members, record)
		}

		extracted[record.ArchivePath] = tmpPath
	}

	ordered := orderSeries(groups)

	for _, s := range ordered {
		bundle, err := r.writeBundle(s, extracted)
		if err != nil {
			// No partial output: a half-written run must not look like a
			// successful one to retry logic.
			removeBundles(result.Bundles)
			os.Remove(filepath.Join(r.outDir, bundleName(s)))
			return nil, err
		}

		r.metrics.BundlesWritten.Inc()
		log.Info("bundle written", map[string]string{
			"bundle":  bundle.Path,
			"subject": bundle.SubjectLabel,
			"series":  bundle.SeriesInstanceUID,
			"members": fmt.Sprintf("%d", len(bundle.Members)),
		})

		result.Bundles = append(result.Bundles, *bundle)
	}

	log.Info("run complete", map[string]string{
		"bundles": fmt.Sprintf("%d", len(result.Bundles)),
		"skipped": fmt.Sprintf("%d", len(result.Skipped)),
	})

	return result, nil
}

// orderSeries produces the deterministic output order: ascending SeriesNumber
// where present, then lexicographic SeriesInstanceUID for the rest. The UID
// tie-break in every branch makes this a total order, so map iteration order
// cannot leak into the result.
func orderSeries(groups map[string]*Series) []*Series {
	ordered := make([]*Series, 0, len(groups))
	for _, s := range groups {
		ordered = append(ordered, s)
	}

	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]

		switch {
		case a.SeriesNumber.Valid && b.SeriesNumber.Valid:
			if a.SeriesNumber.Int64 != b.SeriesNumber.Int64 {
				return a.SeriesNumber.Int64 < b.SeriesNumber.Int64
			}
			return a.SeriesInstanceUID < b.SeriesInstanceUID
		case a.SeriesNumber.Valid:
			return true
		case b.SeriesNumber.Valid:
			return false
		default:
			return a.SeriesInstanceUID < b.SeriesInstanceUID
		}
	})

	return ordered
}

// writeBundle creates one zip holding exactly the series' member files, under
// their original archive paths.
func (r *Repackager) writeBundle(s *Series, extracted map[string]string) (*SeriesBundle, error) {
	outPath := filepath.Join(r.outDir, bundleName(s))

	out, err := os.Create(outPath)
	if err != nil {
		return nil, &ResourceError{Path: outPath, Err: err}
	}

	zw := zip.NewWriter(out)

	bundle := &SeriesBundle{
		Path:              outPath,
		SubjectLabel:      s.SubjectLabel,
		SeriesInstanceUID: s.SeriesInstanceUID,
		SeriesNumber:      s.SeriesNumber,
	}

	for _, member := range s.Members {
		if member.StudyDate.Valid {
			bundle.StudyDate = member.StudyDate
			break
		}
	}

	for _, member := range s.Members {
		if err := addMember(zw, member.ArchivePath, extracted[member.ArchivePath]); err != nil {
			zw.Close()
			out.Close()
			return nil, &ResourceError{Path: outPath, Err: err}
		}

		bundle.Members = append(bundle.Members, member.ArchivePath)
	}

	if err := zw.Close(); err != nil {
		out.Close()
		return nil, &ResourceError{Path: outPath, Err: err}
	}

	if err := out.Close(); err != nil {
		return nil, &ResourceError{Path: outPath, Err: err}
	}

	return bundle, nil
}

func addMember(zw *zip.Writer, name, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.Create(name)
	if err != nil {
		return err
	}

	_, err = io.Copy(w, src)
	return err
}

func extractEntry(f *zip.File, dest string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

func removeBundles(bundles []SeriesBundle) {
	for _, b := range bundles {
		os.Remove(b.Path)
	}
}
