// Package dicomtest builds minimal synthetic dicom files and zip archives for
// tests. The streams are explicit-VR little-endian Part-10 with just enough
// header to satisfy a metadata-only parse.
package dicomtest

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"os"
)

const explicitVRLittleEndian = "1.2.840.10008.1.2.1"

// Instance describes the identifying fields of one synthetic dicom file.
// Empty fields are omitted from the stream.
type Instance struct {
	SeriesInstanceUID string
	SeriesNumber      string
	StudyDate         string
}

// Encode renders the instance as a Part-10 stream.
func Encode(inst Instance) []byte {
	buf := &bytes.Buffer{}

	// Preamble and magic
	buf.Write(make([]byte, 128))
	buf.WriteString("DICM")

	// File meta group, preceded by its group length
	meta := &bytes.Buffer{}
	writeElement(meta, 0x0002, 0x0002, "UI", uiPad("1.2.840.10008.5.1.4.1.1.4"))
	writeElement(meta, 0x0002, 0x0003, "UI", uiPad("1.2.3.4.5.6.7.8.9"))
	writeElement(meta, 0x0002, 0x0010, "UI", uiPad(explicitVRLittleEndian))

	groupLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLen, uint32(meta.Len()))
	writeElement(buf, 0x0002, 0x0000, "UL", groupLen)
	buf.Write(meta.Bytes())

	// Dataset, ascending tag order
	if inst.StudyDate != "" {
		writeElement(buf, 0x0008, 0x0020, "DA", spacePad(inst.StudyDate))
	}
	if inst.SeriesInstanceUID != "" {
		writeElement(buf, 0x0020, 0x000E, "UI", uiPad(inst.SeriesInstanceUID))
	}
	if inst.SeriesNumber != "" {
		writeElement(buf, 0x0020, 0x0011, "IS", spacePad(inst.SeriesNumber))
	}

	return buf.Bytes()
}

// WriteFile writes one synthetic instance to disk.
func WriteFile(path string, inst Instance) error {
	return os.WriteFile(path, Encode(inst), 0o644)
}

// Entry is one archive member, in insertion order.
type Entry struct {
	Name string
	Data []byte
}

// WriteZip builds a zip archive of the given entries in order.
func WriteZip(path string, entries []Entry) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(out)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			out.Close()
			return err
		}
		if _, err := w.Write(e.Data); err != nil {
			out.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

// writeElement emits a short-form explicit-VR little-endian element.
func writeElement(buf *bytes.Buffer, group, elem uint16, vr string, value []byte) {
	b2 := make([]byte, 2)

	binary.LittleEndian.PutUint16(b2, group)
	buf.Write(b2)
	binary.LittleEndian.PutUint16(b2, elem)
	buf.Write(b2)

	buf.WriteString(vr)

	binary.LittleEndian.PutUint16(b2, uint16(len(value)))
	buf.Write(b2)
	buf.Write(value)
}

func uiPad(s string) []byte {
	if len(s)%2 != 0 {
		s += "\x00"
	}
	return []byte(s)
}

func spacePad(s string) []byte {
	if len(s)%2 != 0 {
		s += " "
	}
	return []byte(s)
}
