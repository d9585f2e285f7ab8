package cleaner

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/richardlehane/mscfb"
	"github.com/richardlehane/msoleps"
	"github.com/richardlehane/msoleps/types"
)

// Property-set stream names as mscfb reports them: the leading 0x05 is
// split off into File.Initial.
const (
	summaryStream    = "SummaryInformation"
	docSummaryStream = "DocumentSummaryInformation"
)

// Property-set format identifiers as stored on disk (GUID byte order).
var (
	fmtidSummary     = []byte{0xE0, 0x85, 0x9F, 0xF2, 0xF9, 0x4F, 0x68, 0x10, 0xAB, 0x91, 0x08, 0x00, 0x2B, 0x27, 0xB3, 0xD9}
	fmtidDocSummary  = []byte{0x02, 0xD5, 0xCD, 0xD5, 0x9C, 0x2E, 0x1B, 0x10, 0x93, 0x97, 0x08, 0x00, 0x2B, 0x2C, 0xF9, 0xAE}
	fmtidUserDefined = []byte{0x05, 0xD5, 0xCD, 0xD5, 0x9C, 0x2E, 0x1B, 0x10, 0x93, 0x97, 0x08, 0x00, 0x2B, 0x2C, 0xF9, 0xAE}
)

// Property types blanked in place.
const (
	vtLPSTR    = 0x001E
	vtLPWSTR   = 0x001F
	vtFILETIME = 0x0040
)

// Property ids cleared per set: title, subject, author, keywords, comments,
// template, last author, revision, edit/print/create/save times and app name
// in SummaryInformation; category, manager and company in the document set.
var (
	summaryPIDs    = map[uint32]bool{2: true, 3: true, 4: true, 5: true, 6: true, 7: true, 8: true, 9: true, 10: true, 11: true, 12: true, 13: true, 18: true}
	docSummaryPIDs = map[uint32]bool{2: true, 14: true, 15: true}
)

// Streams whose presence marks an encrypted legacy document.
var encryptionStreams = map[string]bool{"EncryptionInfo": true, "EncryptedSummary": true}

// fibEncrypted is fEncrypted in the Word FIB flags at offset 0x0A.
const fibEncrypted = 0x0100

var errMalformedPropertySet = errors.New("malformed property set")

// Properties that must read back empty after cleaning, by msoleps name.
var oleIdentifying = map[string]bool{
	"Title": true, "Subject": true, "Author": true, "Keywords": true, "Comments": true,
	"Template": true, "LastAuthor": true, "RevNumber": true, "AppName": true,
	"EditTime": true, "LastPrinted": true, "CreateTime": true, "LastSaveTime": true,
	"Category": true, "Manager": true, "Company": true,
}

// cleanOLE blanks the property-set streams of the compound file at tmp in
// place. Stream sizes never change, so the container layout is untouched.
func cleanOLE(tmp, format string) error {
	f, err := os.OpenFile(tmp, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	doc, err := mscfb.New(f)
	if err != nil {
		return &Error{Kind: IOError, Op: "ole open", Path: tmp, Err: err}
	}
	for entry, err := doc.Next(); err != io.EOF; entry, err = doc.Next() {
		if err != nil {
			return &Error{Kind: IOError, Op: "ole read", Path: tmp, Err: err}
		}
		if len(entry.Path) > 0 {
			continue
		}
		switch {
		case encryptionStreams[entry.Name]:
			return &Error{Kind: EncryptedInput, Op: "ole", Path: tmp, Err: ErrEncrypted}
		case entry.Name == "WordDocument" && format == "doc":
			if wordEncrypted(entry) {
				return &Error{Kind: EncryptedInput, Op: "ole", Path: tmp, Err: ErrEncrypted}
			}
		case isPropertyStream(entry):
			if err := blankPropertyStream(entry); err != nil {
				return &Error{Kind: IOError, Op: "ole " + entry.Name, Path: tmp, Err: err}
			}
		}
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := verifyOLE(tmp); err != nil {
		return &Error{Kind: VerificationFailure, Op: "verify", Path: tmp, Err: err}
	}
	return nil
}

func isPropertyStream(entry *mscfb.File) bool {
	return msoleps.IsMSOLEPS(entry.Initial) && (entry.Name == summaryStream || entry.Name == docSummaryStream)
}

// verifyOLE re-reads every property set of the compound file at path and
// fails if an identifying property still holds a value.
func verifyOLE(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	doc, err := mscfb.New(f)
	if err != nil {
		return err
	}
	props := msoleps.New()
	for entry, err := doc.Next(); err != io.EOF; entry, err = doc.Next() {
		if err != nil {
			return err
		}
		if len(entry.Path) > 0 || !isPropertyStream(entry) {
			continue
		}
		if err := props.Reset(entry); err != nil {
			return fmt.Errorf("read %s: %w", entry.Name, err)
		}
		for _, p := range props.Property {
			if oleIdentifying[p.Name] && !blankOLEValue(p.T) {
				return fmt.Errorf("%s still set in %s", p.Name, entry.Name)
			}
		}
	}
	return nil
}

func blankOLEValue(t types.Type) bool {
	switch v := t.(type) {
	case *types.CodeString:
		return len(bytes.Trim(v.Chars, "\x00")) == 0
	case types.UnicodeString:
		for _, c := range v {
			if c != 0 {
				return false
			}
		}
	case types.FileTime:
		return v.Low == 0 && v.High == 0
	}
	return true
}

func wordEncrypted(entry *mscfb.File) bool {
	fib := make([]byte, 12)
	if _, err := io.ReadFull(entry, fib); err != nil {
		return false
	}
	return binary.LittleEndian.Uint16(fib[0x0A:])&fibEncrypted != 0
}

func blankPropertyStream(entry *mscfb.File) error {
	buf := make([]byte, entry.Size)
	if _, err := io.ReadFull(entry, buf); err != nil {
		return err
	}
	if err := blankPropertySets(buf); err != nil {
		return err
	}
	_, err := entry.WriteAt(buf, 0)
	return err
}

// blankPropertySets edits a PropertySetStream in memory: string values are
// zero-filled and FILETIME values zeroed, keeping every length field.
func blankPropertySets(buf []byte) error {
	if len(buf) < 28 || binary.LittleEndian.Uint16(buf) != 0xFFFE {
		return errMalformedPropertySet
	}
	sets := binary.LittleEndian.Uint32(buf[24:])
	for i := uint32(0); i < sets; i++ {
		hdr := 28 + int(i)*20
		if hdr+20 > len(buf) {
			return errMalformedPropertySet
		}
		fmtid := buf[hdr : hdr+16]
		offset := int(binary.LittleEndian.Uint32(buf[hdr+16:]))

		var match func(pid uint32) bool
		switch {
		case bytes.Equal(fmtid, fmtidSummary):
			match = func(pid uint32) bool { return summaryPIDs[pid] }
		case bytes.Equal(fmtid, fmtidDocSummary):
			match = func(pid uint32) bool { return docSummaryPIDs[pid] }
		case bytes.Equal(fmtid, fmtidUserDefined):
			match = func(pid uint32) bool { return pid > 1 }
		default:
			continue
		}
		if err := blankSet(buf, offset, match); err != nil {
			return err
		}
	}
	return nil
}

// blankSet clears the properties of the set at start for which match is true.
func blankSet(buf []byte, start int, match func(pid uint32) bool) error {
	if start < 0 || start+8 > len(buf) {
		return errMalformedPropertySet
	}
	count := int(binary.LittleEndian.Uint32(buf[start+4:]))
	for i := 0; i < count; i++ {
		pair := start + 8 + i*8
		if pair+8 > len(buf) {
			return errMalformedPropertySet
		}
		pid := binary.LittleEndian.Uint32(buf[pair:])
		if !match(pid) {
			continue
		}
		at := start + int(binary.LittleEndian.Uint32(buf[pair+4:]))
		if err := blankValue(buf, at); err != nil {
			return fmt.Errorf("property %d: %w", pid, err)
		}
	}
	return nil
}

func blankValue(buf []byte, at int) error {
	if at < 0 || at+8 > len(buf) {
		return errMalformedPropertySet
	}
	vt := binary.LittleEndian.Uint16(buf[at:])
	var n int
	switch vt {
	case vtLPSTR:
		n = int(binary.LittleEndian.Uint32(buf[at+4:]))
	case vtLPWSTR:
		n = 2 * int(binary.LittleEndian.Uint32(buf[at+4:]))
	case vtFILETIME:
		if at+12 > len(buf) {
			return errMalformedPropertySet
		}
		clear(buf[at+4 : at+12])
		return nil
	default:
		return nil
	}
	data := at + 8
	if n < 0 || data+n > len(buf) {
		return errMalformedPropertySet
	}
	clear(buf[data : data+n])
	return nil
}

// oleHasStream reports whether the compound file at path holds a root-level
// stream with the given name.
func oleHasStream(path, name string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	doc, err := mscfb.New(f)
	if err != nil {
		return false, err
	}
	for entry, err := doc.Next(); err != io.EOF; entry, err = doc.Next() {
		if err != nil {
			return false, err
		}
		if len(entry.Path) == 0 && entry.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// oleResidue names what cleanOLE cannot reach for each legacy format.
func oleResidue(format string) []string {
	notes := []string{"property sets blanked; binary document stream left as is"}
	switch format {
	case "doc":
		notes = append(notes, "Word SavedBy history and tracked-change authors remain in the WordDocument stream")
	case "xls":
		notes = append(notes, "Excel user name (WRITEACCESS record) remains in the Workbook stream")
	case "ppt":
		notes = append(notes, "PowerPoint comment authors remain in the document stream")
	}
	return notes
}
