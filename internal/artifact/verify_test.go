package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestSniff(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, b []byte) string {
		p := filepath.Join(dir, name)
		test.That(t, os.WriteFile(p, b, 0o644), test.ShouldBeNil)
		return p
	}

	test.That(t, Sniff(write("model.onnx", binaryPayload(2048))), test.ShouldBeNil)
	test.That(t, Sniff(write("tiny.onnx", []byte{0x08, 0x07})), test.ShouldBeNil)

	err := Sniff(write("warning.onnx", []byte(warningPage)))
	test.That(t, errors.Is(err, ErrNotArtifact), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "text/html")

	err = Sniff(write("empty.onnx", nil))
	test.That(t, errors.Is(err, ErrNotArtifact), test.ShouldBeTrue)

	err = Sniff(write("feed.onnx", []byte(`<?xml version="1.0"?><Error>AccessDenied</Error>`)))
	test.That(t, errors.Is(err, ErrNotArtifact), test.ShouldBeTrue)

	err = Sniff(filepath.Join(dir, "missing.onnx"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrNotArtifact), test.ShouldBeFalse)
}

func TestVerify(t *testing.T) {
	head := binaryPayload(64)
	test.That(t, verify(Source{}, head, 64, nil), test.ShouldBeNil)
	test.That(t, errors.Is(verify(Source{MinSize: 65}, head, 64, nil), ErrTooSmall), test.ShouldBeTrue)
	test.That(t, errors.Is(verify(Source{SHA256: "00"}, head, 64, []byte{0x01}), ErrChecksumMismatch), test.ShouldBeTrue)
	test.That(t, verify(Source{SHA256: "0a"}, head, 64, []byte{0x0a}), test.ShouldBeNil)
}

func TestVerifyOptionalSVG(t *testing.T) {
	svg := []byte(`<?xml version="1.0" encoding="UTF-8"?><svg xmlns="http://www.w3.org/2000/svg" width="8" height="8"></svg>`)
	xmlError := []byte(`<?xml version="1.0"?><Error>AccessDenied</Error>`)
	size := int64(len(svg))

	test.That(t, verify(Source{Name: "logo", Optional: true}, svg, size, nil), test.ShouldBeNil)
	test.That(t, errors.Is(verify(Source{Name: "model"}, svg, size, nil), ErrNotArtifact), test.ShouldBeTrue)
	test.That(t, errors.Is(verify(Source{Name: "logo", Optional: true}, xmlError, int64(len(xmlError)), nil), ErrNotArtifact), test.ShouldBeTrue)
	test.That(t, errors.Is(verify(Source{Name: "logo", Optional: true}, []byte(warningPage), int64(len(warningPage)), nil), ErrNotArtifact), test.ShouldBeTrue)
}
