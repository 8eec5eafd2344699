package extractor

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	er "github.com/customeros/dmarcwatch/internal/errors"
)

var (
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
	gzipMagic = []byte{0x1f, 0x8b}
)

// ExtractXML turns an uploaded buffer plus its claimed filename into raw
// XML text. The binary signature wins over the extension: feeds are
// routinely mislabeled in the wild.
func ExtractXML(data []byte, filename string) (string, error) {
	if len(data) == 0 {
		return "", er.ErrEmptyInput
	}

	ext := strings.ToLower(filepath.Ext(filename))

	switch {
	case bytes.HasPrefix(data, zipMagic):
		return extractZip(data)
	case bytes.HasPrefix(data, gzipMagic):
		return extractGzip(data)
	case ext == ".xml" || ext == ".txt":
		return string(data), nil
	case ext == ".gz" || ext == ".gzip":
		return extractGzip(data)
	case ext == ".zip":
		return extractZip(data)
	default:
		// no recognizable signature and no usable extension; accept buffers
		// that at least look like XML before giving up
		trimmed := bytes.TrimLeft(data, " \t\r\n")
		if bytes.HasPrefix(trimmed, []byte("<")) {
			return string(data), nil
		}
		return "", errors.Wrapf(er.ErrUnsupportedFileType, "extension %q", ext)
	}
}

// extractGzip decompresses gzip data, falling back to zlib and then raw
// deflate: some reporters gzip the body but write the wrong header.
func extractGzip(data []byte) (string, error) {
	if zr, err := gzip.NewReader(bytes.NewReader(data)); err == nil {
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err == nil {
			return string(out), nil
		}
	}

	if zr, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err == nil {
			return string(out), nil
		}
	}

	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	out, err := io.ReadAll(fr)
	if err != nil {
		return "", errors.Wrap(er.ErrCorruptArchive, "gzip, zlib and deflate all failed")
	}
	return string(out), nil
}

func extractZip(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		// Retry once from the first local-file header. Tolerates leading
		// garbage (e.g. an email preamble glued onto the archive).
		if errors.Is(err, zip.ErrFormat) {
			if idx := bytes.Index(data, zipMagic); idx > 0 {
				resliced := data[idx:]
				zr, err = zip.NewReader(bytes.NewReader(resliced), int64(len(resliced)))
			}
		}
		if err != nil {
			return "", errors.Wrap(er.ErrCorruptArchive, err.Error())
		}
	}

	entry := pickZipEntry(zr)
	if entry == nil {
		return "", er.ErrEmptyArchive
	}

	rc, err := entry.Open()
	if err != nil {
		return "", errors.Wrap(er.ErrCorruptArchive, err.Error())
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return "", errors.Wrap(er.ErrCorruptArchive, err.Error())
	}

	if strings.HasSuffix(strings.ToLower(entry.Name), ".gz") {
		return extractGzip(content)
	}
	return string(content), nil
}

// pickZipEntry prefers *.xml, then compressed xml, then any file.
func pickZipEntry(zr *zip.Reader) *zip.File {
	var gzEntry, anyEntry *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := strings.ToLower(f.Name)
		switch {
		case strings.HasSuffix(name, ".xml"):
			return f
		case strings.HasSuffix(name, ".gz") && gzEntry == nil:
			gzEntry = f
		case anyEntry == nil:
			anyEntry = f
		}
	}
	if gzEntry != nil {
		return gzEntry
	}
	return anyEntry
}
