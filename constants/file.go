package constants

import "strings"

// FileFormat is the coarse format class recorded per document. Routing only
// cares about archives; the rest is bookkeeping for schema selection.
type FileFormat string

const (
	FormatPDF         FileFormat = "PDF"
	FormatImage       FileFormat = "IMAGE"
	FormatSpreadsheet FileFormat = "SPREADSHEET"
	FormatText        FileFormat = "TXT"
	FormatArchive     FileFormat = "ARCHIVE"
)

// AllowedExtensions holds the file extensions accepted by ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"tiff": {},
	"xlsx": {},
	"csv":  {},
	"txt":  {},
	"zip":  {},
}

var extToFormat = map[string]FileFormat{
	"pdf":  FormatPDF,
	"jpg":  FormatImage,
	"jpeg": FormatImage,
	"png":  FormatImage,
	"tiff": FormatImage,
	"xlsx": FormatSpreadsheet,
	"csv":  FormatSpreadsheet,
	"txt":  FormatText,
	"zip":  FormatArchive,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat resolves a (possibly dotted, mixed-case) extension to its
// format class. Unknown extensions map to TXT so a stray file still routes
// through the plain parse path instead of being dropped.
func MapExtToFormat(ext string) FileFormat {
	if f, ok := extToFormat[NormalizeExt(ext)]; ok {
		return f
	}
	return FormatText
}

// IsArchiveExt reports whether the extension denotes a container that the
// expander should fan out instead of parsing directly.
func IsArchiveExt(ext string) bool {
	return MapExtToFormat(ext) == FormatArchive
}
