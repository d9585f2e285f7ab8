package cleaner

import (
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

func init() {
	// Keep pdfcpu from creating a config directory under the user's home.
	api.DisableConfigDir()
}

// cleanPDF drops the Info dictionary and the catalog's XMP and PieceInfo
// entries, then writes the document to out. Unreferenced objects are not
// carried into the new file.
func cleanPDF(in, out string) error {
	ctx, err := api.ReadContextFile(in)
	if err != nil {
		if isPDFPasswordError(err) {
			return &Error{Kind: EncryptedInput, Op: "pdf", Path: in, Err: ErrEncrypted}
		}
		return &Error{Kind: IOError, Op: "pdf read", Path: in, Err: err}
	}
	if ctx.XRefTable.Encrypt != nil {
		return &Error{Kind: EncryptedInput, Op: "pdf", Path: in, Err: ErrEncrypted}
	}

	xt := ctx.XRefTable
	xt.Info = nil
	xt.Title, xt.Subject, xt.Keywords, xt.Author = "", "", "", ""
	xt.Creator, xt.Producer, xt.CreationDate, xt.ModDate = "", "", "", ""
	xt.Properties = nil

	root, err := xt.Catalog()
	if err != nil {
		return &Error{Kind: IOError, Op: "pdf catalog", Path: in, Err: err}
	}
	root.Delete("Metadata")
	root.Delete("PieceInfo")

	if err := api.WriteContextFile(ctx, out); err != nil {
		return &Error{Kind: IOError, Op: "pdf write", Path: in, Err: err}
	}
	return nil
}

func isPDFPasswordError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypt")
}
