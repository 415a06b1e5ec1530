package repack

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/naccdata/clariti-advanced-mri/internal/dicomtest"
	"github.com/naccdata/clariti-advanced-mri/internal/observability"
	"github.com/naccdata/clariti-advanced-mri/internal/subject"
)

func newTestRepackager(t *testing.T, outDir string) *Repackager {
	t.Helper()

	resolver, err := subject.NewResolver("NACC")
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	log := observability.NewLogger("repackager-test", true, &bytes.Buffer{})

	return New(resolver, log, observability.NewMetrics(), outDir)
}

// Redirect temp-file creation into a private directory so tests can verify
// the scoped working directory is gone afterwards.
func isolateTempDir(t *testing.T) string {
	t.Helper()

	// Calling t.TempDir here pins the test's own temp base before TMPDIR
	// changes, so later fixture dirs do not land inside tmpBase.
	tmpBase := filepath.Join(t.TempDir(), "tmproot")
	if err := os.Mkdir(tmpBase, 0o755); err != nil {
		t.Fatalf("creating temp base: %v", err)
	}
	t.Setenv("TMPDIR", tmpBase)

	return tmpBase
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading %s: %v", dir, err)
	}
	if len(entries) != 0 {
		t.Errorf("expected working directory to be released, found %d leftover entries", len(entries))
	}
}

func bundleMembers(t *testing.T, bundlePath string) []string {
	t.Helper()

	rc, err := zip.OpenReader(bundlePath)
	if err != nil {
		t.Fatalf("opening bundle %s: %v", bundlePath, err)
	}
	defer rc.Close()

	names := []string{}
	for _, f := range rc.File {
		names = append(names, f.Name)
	}

	return names
}

func TestRepackageEndToEnd(t *testing.T) {
	tmpBase := isolateTempDir(t)
	outDir := t.TempDir()

	// 3 instances of series A, 2 of series B, 1 unparseable file.
	entries := []dicomtest.Entry{
		{Name: "export/NACC001/scan1/im1.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "1.2.3.A", SeriesNumber: "2", StudyDate: "20230104"})},
		{Name: "export/NACC001/scan1/im2.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "1.2.3.A", SeriesNumber: "2"})},
		{Name: "export/NACC001/scan1/im3.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "1.2.3.A", SeriesNumber: "2"})},
		{Name: "export/NACC001/scan2/im1.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "1.2.3.B", SeriesNumber: "5"})},
		{Name: "export/NACC001/scan2/im2.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "1.2.3.B", SeriesNumber: "5"})},
		{Name: "export/NACC001/notes.txt", Data: []byte("not a dicom file")},
	}

	srcZip := filepath.Join(t.TempDir(), "source.zip")
	if err := dicomtest.WriteZip(srcZip, entries); err != nil {
		t.Fatalf("building source zip: %v", err)
	}

	r := newTestRepackager(t, outDir)

	result, err := r.Repackage(context.Background(), srcZip)
	if err != nil {
		t.Fatalf("Repackage failed: %v", err)
	}

	if len(result.Bundles) != 2 {
		t.Fatalf("expected 2 bundles, got %d", len(result.Bundles))
	}

	a, b := result.Bundles[0], result.Bundles[1]

	if a.SeriesInstanceUID != "1.2.3.A" || b.SeriesInstanceUID != "1.2.3.B" {
		t.Errorf("unexpected bundle order: %s then %s", a.SeriesInstanceUID, b.SeriesInstanceUID)
	}

	if len(a.Members) != 3 {
		t.Errorf("expected 3 members in series A, got %d", len(a.Members))
	}
	if len(b.Members) != 2 {
		t.Errorf("expected 2 members in series B, got %d", len(b.Members))
	}

	if a.SubjectLabel != "NACC001" || b.SubjectLabel != "NACC001" {
		t.Errorf("expected subject NACC001 on both bundles, got %q and %q", a.SubjectLabel, b.SubjectLabel)
	}

	if name := filepath.Base(a.Path); !strings.HasPrefix(name, "NACC001_2_") || !strings.HasSuffix(name, ".zip") {
		t.Errorf("unexpected bundle name %s", name)
	}

	if len(result.Skipped) != 1 {
		t.Fatalf("expected 1 diagnostic entry, got %d", len(result.Skipped))
	}
	if result.Skipped[0].ArchivePath != "export/NACC001/notes.txt" || result.Skipped[0].Reason != SkipMetadata {
		t.Errorf("unexpected diagnostic entry: %+v", result.Skipped[0])
	}

	// Partition: the union of bundle members plus the skip list covers every
	// source entry exactly once.
	seen := map[string]int{}
	for _, bundle := range result.Bundles {
		for _, name := range bundleMembers(t, bundle.Path) {
			seen[name]++
		}
	}
	for _, skipped := range result.Skipped {
		seen[skipped.ArchivePath]++
	}

	if len(seen) != len(entries) {
		t.Errorf("partition covers %d entries, want %d", len(seen), len(entries))
	}
	for name, count := range seen {
		if count != 1 {
			t.Errorf("entry %s appears %d times across bundles and diagnostics", name, count)
		}
	}

	requireEmptyDir(t, tmpBase)
}

func TestRepackageIdempotent(t *testing.T) {
	outDir := t.TempDir()

	entries := []dicomtest.Entry{
		{Name: "NACC002/a/1.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "9.9.1", SeriesNumber: "1"})},
		{Name: "NACC002/b/1.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "9.9.2", SeriesNumber: "2"})},
		{Name: "NACC002/b/2.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "9.9.2", SeriesNumber: "2"})},
	}

	srcZip := filepath.Join(t.TempDir(), "source.zip")
	if err := dicomtest.WriteZip(srcZip, entries); err != nil {
		t.Fatalf("building source zip: %v", err)
	}

	r := newTestRepackager(t, outDir)

	type identity struct {
		Subject string
		UID     string
		Members []string
	}

	runOnce := func() []identity {
		result, err := r.Repackage(context.Background(), srcZip)
		if err != nil {
			t.Fatalf("Repackage failed: %v", err)
		}

		out := []identity{}
		for _, b := range result.Bundles {
			out = append(out, identity{Subject: b.SubjectLabel, UID: b.SeriesInstanceUID, Members: bundleMembers(t, b.Path)})
		}
		return out
	}

	first := runOnce()
	second := runOnce()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("re-run produced different bundles:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestRepackageSubjectMismatchIsFatal(t *testing.T) {
	tmpBase := isolateTempDir(t)
	outDir := t.TempDir()

	entries := []dicomtest.Entry{
		{Name: "NACC001/1.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "5.5.5", SeriesNumber: "1"})},
		{Name: "NACC002/1.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "5.5.5", SeriesNumber: "1"})},
	}

	srcZip := filepath.Join(t.TempDir(), "source.zip")
	if err := dicomtest.WriteZip(srcZip, entries); err != nil {
		t.Fatalf("building source zip: %v", err)
	}

	r := newTestRepackager(t, outDir)

	_, err := r.Repackage(context.Background(), srcZip)

	var integrityErr *SeriesIntegrityError
	if !errors.As(err, &integrityErr) {
		t.Fatalf("expected SeriesIntegrityError, got %v", err)
	}

	if integrityErr.SeriesInstanceUID != "5.5.5" {
		t.Errorf("error identifies series %q, want 5.5.5", integrityErr.SeriesInstanceUID)
	}

	produced, readErr := os.ReadDir(outDir)
	if readErr != nil {
		t.Fatalf("reading output dir: %v", readErr)
	}
	if len(produced) != 0 {
		t.Errorf("expected zero bundles after integrity failure, found %d", len(produced))
	}

	requireEmptyDir(t, tmpBase)
}

func TestRepackageUnresolvableSubject(t *testing.T) {
	outDir := t.TempDir()

	entries := []dicomtest.Entry{
		{Name: "NACC003/1.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "7.7.1", SeriesNumber: "1"})},
		{Name: "misc/stray.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "7.7.2", SeriesNumber: "2"})},
	}

	srcZip := filepath.Join(t.TempDir(), "source.zip")
	if err := dicomtest.WriteZip(srcZip, entries); err != nil {
		t.Fatalf("building source zip: %v", err)
	}

	r := newTestRepackager(t, outDir)

	result, err := r.Repackage(context.Background(), srcZip)
	if err != nil {
		t.Fatalf("Repackage failed: %v", err)
	}

	if len(result.Bundles) != 1 {
		t.Fatalf("expected 1 bundle, got %d", len(result.Bundles))
	}

	if len(result.Skipped) != 1 {
		t.Fatalf("expected 1 diagnostic entry, got %d", len(result.Skipped))
	}
	if result.Skipped[0].ArchivePath != "misc/stray.dcm" || result.Skipped[0].Reason != SkipNoSubject {
		t.Errorf("unexpected diagnostic entry: %+v", result.Skipped[0])
	}
}

func TestRepackageOrdering(t *testing.T) {
	outDir := t.TempDir()

	// Series numbers [3, null, 1]: expected output order 1, 3, then the
	// null-numbered series.
	entries := []dicomtest.Entry{
		{Name: "NACC004/x/1.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "3.3.3", SeriesNumber: "3"})},
		{Name: "NACC004/y/1.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "2.2.2"})},
		{Name: "NACC004/z/1.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "1.1.1", SeriesNumber: "1"})},
	}

	srcZip := filepath.Join(t.TempDir(), "source.zip")
	if err := dicomtest.WriteZip(srcZip, entries); err != nil {
		t.Fatalf("building source zip: %v", err)
	}

	r := newTestRepackager(t, outDir)

	result, err := r.Repackage(context.Background(), srcZip)
	if err != nil {
		t.Fatalf("Repackage failed: %v", err)
	}

	got := []string{}
	for _, b := range result.Bundles {
		got = append(got, b.SeriesInstanceUID)
	}

	want := []string{"1.1.1", "3.3.3", "2.2.2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("bundle order = %v, want %v", got, want)
	}

	// The null-numbered bundle is named from the UID hash, not a number.
	unnumbered := result.Bundles[2]
	if unnumbered.SeriesNumber.Valid {
		t.Errorf("expected null series number on %s", unnumbered.SeriesInstanceUID)
	}
	if filepath.Base(unnumbered.Path) == "NACC004_.zip" {
		t.Errorf("unnumbered bundle has degenerate name %s", unnumbered.Path)
	}
}

func TestRepackageSameNumberDistinctSeries(t *testing.T) {
	outDir := t.TempDir()

	// Series numbers are only unique within a study, so one subject can
	// carry two distinct series numbered identically. Both bundles must
	// survive on disk.
	entries := []dicomtest.Entry{
		{Name: "NACC001/visit1/a.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "1.1", SeriesNumber: "1"})},
		{Name: "NACC001/visit2/b.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "2.2", SeriesNumber: "1"})},
	}

	srcZip := filepath.Join(t.TempDir(), "source.zip")
	if err := dicomtest.WriteZip(srcZip, entries); err != nil {
		t.Fatalf("building source zip: %v", err)
	}

	r := newTestRepackager(t, outDir)

	result, err := r.Repackage(context.Background(), srcZip)
	if err != nil {
		t.Fatalf("Repackage failed: %v", err)
	}

	if len(result.Bundles) != 2 {
		t.Fatalf("expected 2 bundles, got %d", len(result.Bundles))
	}

	if result.Bundles[0].Path == result.Bundles[1].Path {
		t.Fatalf("bundle paths collide: both at %s", result.Bundles[0].Path)
	}

	members := map[string]bool{}
	for _, bundle := range result.Bundles {
		for _, name := range bundleMembers(t, bundle.Path) {
			members[name] = true
		}
	}
	for _, e := range entries {
		if !members[e.Name] {
			t.Errorf("entry %s missing from every bundle on disk", e.Name)
		}
	}
}

func TestRepackageDuplicateEntryNames(t *testing.T) {
	outDir := t.TempDir()

	entries := []dicomtest.Entry{
		{Name: "NACC006/1.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "8.8.8", SeriesNumber: "1"})},
		{Name: "NACC006/1.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "8.8.8", SeriesNumber: "1"})},
		{Name: "NACC006/2.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "8.8.8", SeriesNumber: "1"})},
	}

	srcZip := filepath.Join(t.TempDir(), "source.zip")
	if err := dicomtest.WriteZip(srcZip, entries); err != nil {
		t.Fatalf("building source zip: %v", err)
	}

	r := newTestRepackager(t, outDir)

	result, err := r.Repackage(context.Background(), srcZip)
	if err != nil {
		t.Fatalf("Repackage failed: %v", err)
	}

	if len(result.Bundles) != 1 {
		t.Fatalf("expected 1 bundle, got %d", len(result.Bundles))
	}

	names := bundleMembers(t, result.Bundles[0].Path)
	if len(names) != 2 {
		t.Errorf("expected 2 unique members, got %v", names)
	}

	if len(result.Skipped) != 1 || result.Skipped[0].Reason != SkipDuplicatePath {
		t.Errorf("expected one duplicate-path diagnostic, got %+v", result.Skipped)
	}
	if result.Skipped[0].ArchivePath != "NACC006/1.dcm" {
		t.Errorf("diagnostic names %s, want NACC006/1.dcm", result.Skipped[0].ArchivePath)
	}
}

func TestRepackageArchiveOpenError(t *testing.T) {
	r := newTestRepackager(t, t.TempDir())

	_, err := r.Repackage(context.Background(), filepath.Join(t.TempDir(), "missing.zip"))

	var openErr *ArchiveOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected ArchiveOpenError, got %v", err)
	}
}

func TestRepackageCancelledContext(t *testing.T) {
	tmpBase := isolateTempDir(t)
	outDir := t.TempDir()

	entries := []dicomtest.Entry{
		{Name: "NACC005/1.dcm", Data: dicomtest.Encode(dicomtest.Instance{SeriesInstanceUID: "4.4.4", SeriesNumber: "1"})},
	}

	srcZip := filepath.Join(t.TempDir(), "source.zip")
	if err := dicomtest.WriteZip(srcZip, entries); err != nil {
		t.Fatalf("building source zip: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRepackager(t, outDir)

	if _, err := r.Repackage(ctx, srcZip); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	requireEmptyDir(t, tmpBase)
}
