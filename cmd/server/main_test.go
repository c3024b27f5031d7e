package main

import (
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestRunReportsStartupFailure(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("PORT", "99999")
	test.That(t, run(), test.ShouldNotBeNil)

	dir := t.TempDir()
	t.Setenv("PORT", "8080")
	t.Setenv("MODEL_PATH", filepath.Join(dir, "absent.onnx"))
	t.Setenv("MODEL_FILE_ID", "")
	t.Setenv("MODEL_URL", "")
	t.Setenv("MODEL_SHA256", "")
	t.Setenv("LOGO_FILE_ID", "")
	t.Setenv("LOGO_URL", "")
	t.Setenv("LOGO_PATH", filepath.Join(dir, "logo.png"))
	err := run()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to initialize model server")
}
