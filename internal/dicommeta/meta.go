package dicommeta

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gradienthealth/dicom"
	"github.com/gradienthealth/dicom/dicomtag"
	"gopkg.in/guregu/null.v3"
)

// Meta holds the small subset of header fields the repackager needs from each
// dicom file. Pixel data is never decoded.
type Meta struct {
	SeriesInstanceUID string
	SeriesNumber      null.Int
	StudyDate         null.String
}

// ParsedDate interprets the StudyDate field, which scanners emit in several
// formats (usually DICOM DA, occasionally something looser).
func (m Meta) ParsedDate() (time.Time, error) {
	if !m.StudyDate.Valid {
		return time.Time{}, fmt.Errorf("no study date present")
	}

	if res, err := time.Parse("20060102", m.StudyDate.String); err == nil {
		return res, nil
	}

	return dateparse.ParseAny(m.StudyDate.String)
}

// MetadataError marks a file that could not contribute a usable record: either
// the stream is not parseable dicom, or the mandatory SeriesInstanceUID tag is
// missing. Callers skip the file and keep going.
type MetadataError struct {
	Path string
	Err  error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("dicom metadata for %s: %v", e.Path, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }

// Extract reads the identifying header fields from a single dicom file without
// decoding pixel data.
func Extract(path string) (*Meta, error) {
	dcm, err := os.ReadFile(path)
	if err != nil {
		return nil, &MetadataError{Path: path, Err: err}
	}

	p, err := dicom.NewParserFromBytes(dcm, nil)
	if err != nil {
		return nil, &MetadataError{Path: path, Err: err}
	}

	parsedData, err := p.Parse(dicom.ParseOptions{
		DropPixelData: true,
		ReturnTags: []dicomtag.Tag{
			dicomtag.SeriesInstanceUID,
			dicomtag.SeriesNumber,
			dicomtag.StudyDate,
		},
	})
	if parsedData == nil || err != nil {
		return nil, &MetadataError{Path: path, Err: fmt.Errorf("error reading dicom: %v", err)}
	}

	out := &Meta{}
	for _, elem := range parsedData.Elements {
		if len(elem.Value) == 0 {
			continue
		}

		str, ok := elem.Value[0].(string)
		if !ok {
			continue
		}

		switch {
		case elem.Tag.Compare(dicomtag.SeriesInstanceUID) == 0:
			// UI values are null-padded to even length
			out.SeriesInstanceUID = strings.TrimRight(str, "\x00 ")
		case elem.Tag.Compare(dicomtag.SeriesNumber) == 0:
			if n, err := strconv.ParseInt(strings.TrimSpace(str), 10, 64); err == nil {
				out.SeriesNumber = null.IntFrom(n)
			}
		case elem.Tag.Compare(dicomtag.StudyDate) == 0:
			if v := strings.TrimSpace(str); v != "" {
				out.StudyDate = null.StringFrom(v)
			}
		}
	}

	if out.SeriesInstanceUID == "" {
		return nil, &MetadataError{Path: path, Err: fmt.Errorf("missing SeriesInstanceUID (0020,000E)")}
	}

	return out, nil
}
