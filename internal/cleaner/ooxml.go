package cleaner

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/backmassage/metascrub/internal/fsutil"
)

// cfbMagic starts every OLE compound file. An OOXML name holding one is a
// password-protected package wrapped in an encryption container.
var cfbMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// zipEpoch replaces every entry's modification time; the DOS format cannot
// go earlier.
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

const xmlDecl = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\r\n"

// emptyParts replace the package property parts outright.
var emptyParts = map[string]string{
	"docProps/core.xml": xmlDecl + `<cp:coreProperties` +
		` xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties"` +
		` xmlns:dc="http://purl.org/dc/elements/1.1/"` +
		` xmlns:dcterms="http://purl.org/dc/terms/"` +
		` xmlns:dcmitype="http://purl.org/dc/dcmitype/"` +
		` xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"></cp:coreProperties>`,
	"docProps/app.xml": xmlDecl + `<Properties` +
		` xmlns="http://schemas.openxmlformats.org/officeDocument/2006/extended-properties"` +
		` xmlns:vt="http://schemas.openxmlformats.org/officeDocument/2006/docPropsVTypes"></Properties>`,
	"docProps/custom.xml": xmlDecl + `<Properties` +
		` xmlns="http://schemas.openxmlformats.org/officeDocument/2006/custom-properties"` +
		` xmlns:vt="http://schemas.openxmlformats.org/officeDocument/2006/docPropsVTypes"></Properties>`,
}

// xmlRules describes the edits applied to one package part. Names are
// qualified with the prefix used in the part ("w:author").
type xmlRules struct {
	dropElements map[string]bool
	dropAttrs    []string // Attribute name prefixes removed entirely.
	blankAttrs   map[string]bool
	blankText    map[string]bool
}

var (
	// Tracked changes, comments and revision-session ids in WordprocessingML.
	// w:date is optional on revisions and comments, so it goes entirely.
	wordRules = &xmlRules{
		dropAttrs:  []string{"w:rsid", "w:date"},
		blankAttrs: map[string]bool{"w:author": true, "w:initials": true, "w15:author": true, "w15:userId": true, "w15:providerId": true},
	}
	wordSettingsRules = &xmlRules{
		dropElements: map[string]bool{"w:rsids": true},
		dropAttrs:    []string{"w:rsid"},
	}
	// The save folder (x15ac:absPath url="C:\Users\<name>\...") and the
	// cloud document id of the last save.
	workbookRules = &xmlRules{dropElements: map[string]bool{"x15ac:absPath": true, "xr:revisionPtr": true}}
	// Legacy comment author list and threaded-comment persons in SpreadsheetML.
	sheetCommentRules = &xmlRules{blankText: map[string]bool{"author": true}}
	sheetPersonRules  = &xmlRules{blankAttrs: map[string]bool{"displayName": true, "userId": true, "providerId": true}}
	// Comment authors in PresentationML.
	slideAuthorRules = &xmlRules{blankAttrs: map[string]bool{"name": true, "initials": true, "userId": true, "providerId": true}}
)

// rulesFor picks the edits for a package part, or nil to copy it unchanged.
func rulesFor(name string) *xmlRules {
	dir, base := path.Split(name)
	if !strings.HasSuffix(base, ".xml") {
		return nil
	}
	switch {
	case name == "word/settings.xml":
		return wordSettingsRules
	case dir == "word/":
		return wordRules
	case name == "xl/workbook.xml":
		return workbookRules
	case dir == "xl/" && strings.HasPrefix(base, "comments"):
		return sheetCommentRules
	case dir == "xl/persons/":
		return sheetPersonRules
	case name == "ppt/commentAuthors.xml", dir == "ppt/authors/", name == "ppt/authors.xml":
		return slideAuthorRules
	}
	return nil
}

// cleanOOXML rewrites the package at in into out.
func cleanOOXML(in, out string) error {
	hdr, err := fsutil.ReadHeader(in, len(cfbMagic))
	if err != nil {
		return &Error{Kind: IOError, Op: "ooxml", Path: in, Err: err}
	}
	if bytes.Equal(hdr, cfbMagic) {
		if has, _ := oleHasStream(in, "EncryptionInfo"); has {
			return &Error{Kind: EncryptedInput, Op: "ooxml", Path: in, Err: ErrEncrypted}
		}
		return Errorf(UnsupportedFormat, "ooxml", in, "compound file with an OOXML name: %w", ErrUnsupported)
	}

	zr, err := zip.OpenReader(in)
	if err != nil {
		return &Error{Kind: IOError, Op: "ooxml open", Path: in, Err: err}
	}
	defer zr.Close()

	f, err := os.OpenFile(out, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	for _, entry := range zr.File {
		if err := copyPart(zw, entry); err != nil {
			zw.Close()
			f.Close()
			return &Error{Kind: IOError, Op: "ooxml " + entry.Name, Path: in, Err: err}
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyPart(zw *zip.Writer, entry *zip.File) error {
	hdr := &zip.FileHeader{
		Name:     entry.Name,
		Method:   entry.Method,
		Modified: zipEpoch,
	}
	if entry.FileInfo().IsDir() {
		_, err := zw.CreateHeader(hdr)
		return err
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}

	if body, ok := emptyParts[entry.Name]; ok {
		_, err := io.WriteString(w, body)
		return err
	}

	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	if rules := rulesFor(entry.Name); rules != nil {
		return filterXML(rc, w, rules)
	}
	_, err = io.Copy(w, rc)
	return err
}

// filterXML streams tokens from r to w, applying rules. Tokens are written
// with their original prefixes; encoding/xml's Encoder would rewrite
// namespaces in a way Office rejects.
func filterXML(r io.Reader, w io.Writer, rules *xmlRules) error {
	dec := xml.NewDecoder(r)
	bw := bufio.NewWriter(w)
	skipDepth := 0
	var blanking []bool

	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := qualified(t.Name)
			if skipDepth > 0 || rules.dropElements[name] {
				skipDepth++
				continue
			}
			blanking = append(blanking, rules.blankText[name])
			writeStart(bw, t, rules)
		case xml.EndElement:
			if skipDepth > 0 {
				skipDepth--
				continue
			}
			if len(blanking) > 0 {
				blanking = blanking[:len(blanking)-1]
			}
			fmt.Fprintf(bw, "</%s>", qualified(t.Name))
		case xml.CharData:
			if skipDepth > 0 || (len(blanking) > 0 && blanking[len(blanking)-1]) {
				continue
			}
			xml.EscapeText(bw, t)
		case xml.ProcInst:
			if skipDepth > 0 {
				continue
			}
			fmt.Fprintf(bw, "<?%s %s?>", t.Target, t.Inst)
		case xml.Comment:
			// Dropped; comments can carry editor notes.
		case xml.Directive:
			if skipDepth == 0 {
				fmt.Fprintf(bw, "<!%s>", t)
			}
		}
	}
	return bw.Flush()
}

func writeStart(bw *bufio.Writer, t xml.StartElement, rules *xmlRules) {
	bw.WriteString("<" + qualified(t.Name))
	for _, a := range t.Attr {
		name := qualified(a.Name)
		if hasAnyPrefix(name, rules.dropAttrs) {
			continue
		}
		value := a.Value
		if rules.blankAttrs[name] {
			value = ""
		}
		bw.WriteString(" " + name + `="`)
		xml.EscapeText(bw, []byte(value))
		bw.WriteString(`"`)
	}
	bw.WriteString(">")
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
