package repack

import (
	"fmt"

	"github.com/zeebo/blake3"
	"gopkg.in/guregu/null.v3"
)

// DicomRecord captures one archive entry's identity: where it sits in the
// source zip and which subject/series it belongs to.
type DicomRecord struct {
	ArchivePath       string
	SeriesInstanceUID string
	SeriesNumber      null.Int
	StudyDate         null.String
	SubjectLabel      string
}

// Series is the unit of re-packaging: all records sharing one
// SeriesInstanceUID, which must also agree on subject.
type Series struct {
	SeriesInstanceUID string
	SubjectLabel      string
	SeriesNumber      null.Int
	Members           []DicomRecord
}

// SeriesBundle describes one produced zip: the file on disk plus the identity
// the uploader needs to route it.
type SeriesBundle struct {
	Path              string
	SubjectLabel      string
	SeriesInstanceUID string
	SeriesNumber      null.Int
	StudyDate         null.String
	Members           []string
}

// bundleName produces the deterministic output filename for a series. The
// UID hash is always part of the name: series numbers are only unique within
// a study, so a subject spanning studies can legitimately carry two distinct
// series with the same number, and those must not collide on disk. Raw UIDs
// are too long and hostile to downstream filename handling, hence the stable
// short hash.
func bundleName(s *Series) string {
	sum := blake3.Sum256([]byte(s.SeriesInstanceUID))

	if s.SeriesNumber.Valid {
		return fmt.Sprintf("%s_%d_%x.zip", s.SubjectLabel, s.SeriesNumber.Int64, sum[:8])
	}

	return fmt.Sprintf("%s_%x.zip", s.SubjectLabel, sum[:8])
}
