package repack

import "fmt"

// ArchiveOpenError means the source archive could not be opened at all; the
// run never started.
type ArchiveOpenError struct {
	Path string
	Err  error
}

func (e *ArchiveOpenError) Error() string {
	return fmt.Sprintf("open archive %s: %v", e.Path, e.Err)
}

func (e *ArchiveOpenError) Unwrap() error { return e.Err }

// ResourceError means a local resource (working directory, output file) could
// not be acquired or written. Fatal for the run.
type ResourceError struct {
	Path string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource %s: %v", e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// SeriesIntegrityError means two entries claim the same SeriesInstanceUID but
// resolve to different subjects. That indicates corrupted or mislabeled input
// and is fatal for the whole run; it is never resolved by picking a winner.
type SeriesIntegrityError struct {
	SeriesInstanceUID string
	Subjects          [2]string
	Entries           [2]string
}

func (e *SeriesIntegrityError) Error() string {
	return fmt.Sprintf("series %s spans subjects %q (%s) and %q (%s)",
		e.SeriesInstanceUID, e.Subjects[0], e.Entries[0], e.Subjects[1], e.Entries[1])
}
