package repack

// SkipReason classifies why an entry was excluded from every bundle.
type SkipReason string

const (
	// SkipMetadata marks entries that were not parseable dicom or lacked the
	// mandatory SeriesInstanceUID tag.
	SkipMetadata SkipReason = "metadata"

	// SkipNoSubject marks entries whose path carried no recognizable subject
	// identifier. Operators triage these by hand.
	SkipNoSubject SkipReason = "no-subject"

	// SkipDuplicatePath marks second and later occurrences of an archive
	// path the zip repeats; only the first occurrence joins a series.
	SkipDuplicatePath SkipReason = "duplicate-path"
)

// SkippedFile is one diagnostics entry in the run report.
type SkippedFile struct {
	ArchivePath string
	Reason      SkipReason
	Detail      string
}

// Result is the outcome of one repackaging run: the produced bundles in their
// deterministic order plus every excluded entry. Excluded entries are always
// reported, never silently dropped.
type Result struct {
	RunID   string
	Bundles []SeriesBundle
	Skipped []SkippedFile
}
