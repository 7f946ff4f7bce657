package images

import (
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SupportedExtensions lists the accepted image file extensions.
var SupportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

const maxBaseLen = 60

var (
	unsafeRun = regexp.MustCompile(`[^\w.-]+`)
	dashRun   = regexp.MustCompile(`-+`)
)

// File is one uploaded image held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Ext returns the lower-cased extension of the file name.
func (f File) Ext() string {
	return strings.ToLower(filepath.Ext(f.Name))
}

// Supported reports whether the file has an accepted image extension.
func (f File) Supported() bool {
	return SupportedExtensions[f.Ext()]
}

func (f File) contentType() string {
	if f.ContentType != "" {
		return f.ContentType
	}
	return mime.TypeByExtension(f.Ext())
}

// FileSet is the upload side of a reconciliation: files addressed by client
// id plus an ordered fallback list for new: descriptors without a named file.
type FileSet struct {
	Named      map[string]File
	Positional []File
}

// SupportedOnly filters files down to accepted extensions, keeping order.
func SupportedOnly(files []File) []File {
	out := make([]File, 0, len(files))
	for _, f := range files {
		if f.Supported() {
			out = append(out, f)
		}
	}
	return out
}

// StorageName builds <millis>-<n>-<safe base><ext> for the n-th upload of a batch.
func StorageName(originalName string, millis int64, n int) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	safe := SafeBase(base)
	if safe == "" {
		safe = fmt.Sprintf("image-%d", n)
	}
	if !SupportedExtensions[ext] {
		ext = ".jpg"
	}
	return fmt.Sprintf("%d-%d-%s%s", millis, n, safe, ext)
}

// SafeBase folds a file base name to ASCII word characters, dots and dashes.
func SafeBase(base string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(t, base)
	if err != nil {
		folded = norm.NFKD.String(base)
	}
	folded = unsafeRun.ReplaceAllString(folded, "-")
	folded = dashRun.ReplaceAllString(folded, "-")
	folded = strings.Trim(folded, "-")
	if len(folded) > maxBaseLen {
		folded = strings.TrimRight(folded[:maxBaseLen], "-")
	}
	return folded
}
