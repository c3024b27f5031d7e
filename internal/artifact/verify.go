package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
)

// sniffLen is the number of leading bytes http.DetectContentType looks at.
const sniffLen = 512

var (
	// ErrNotArtifact is returned when a payload is a web page (typically the
	// host's virus-scan warning) instead of the binary that was asked for.
	ErrNotArtifact = errors.New("payload is not a binary artifact")
	// ErrTooSmall is returned when a payload is shorter than the expected minimum.
	ErrTooSmall = errors.New("artifact smaller than expected")
	// ErrChecksumMismatch is returned when the SHA-256 of a payload differs from the pinned one.
	ErrChecksumMismatch = errors.New("artifact checksum mismatch")
)

// Sniff checks that the file at path looks like a binary artifact rather than
// a saved HTML or XML page.
func Sniff(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open artifact %s", path)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return errors.Wrapf(err, "failed to read artifact %s", path)
	}
	return errors.Wrap(sniffHead(head[:n], false), path)
}

// sniffHead rejects empty, HTML and XML payloads. With allowSVG an XML
// payload whose head holds an <svg element is accepted.
func sniffHead(head []byte, allowSVG bool) error {
	if len(head) == 0 {
		return errors.Wrap(ErrNotArtifact, "empty payload")
	}
	contentType := http.DetectContentType(head)
	if strings.HasPrefix(contentType, "text/html") {
		return errors.Wrapf(ErrNotArtifact, "got %s", contentType)
	}
	if strings.HasPrefix(contentType, "text/xml") && !(allowSVG && bytes.Contains(head, []byte("<svg"))) {
		return errors.Wrapf(ErrNotArtifact, "got %s", contentType)
	}
	return nil
}

// verify applies the integrity checks of src to a downloaded payload.
func verify(src Source, head []byte, size int64, sum []byte) error {
	if err := sniffHead(head, src.Optional); err != nil {
		return err
	}
	if size < src.MinSize {
		return errors.Wrapf(ErrTooSmall, "got %s, want at least %s",
			units.HumanSize(float64(size)), units.HumanSize(float64(src.MinSize)))
	}
	if src.SHA256 != "" {
		got := hex.EncodeToString(sum)
		if !strings.EqualFold(got, src.SHA256) {
			return errors.Wrapf(ErrChecksumMismatch, "got sha256 %s, want %s", got, strings.ToLower(src.SHA256))
		}
	}
	return nil
}

// Checksum returns the hex SHA-256 of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "failed to hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
