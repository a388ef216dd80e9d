package utils

import (
	"os"
	"testing"

	"go.viam.com/test"
)

func MockBuildInfo(t *testing.T, version, revision string) {
	t.Helper()
	originalVersion := Version
	originalRevision := GitRevision
	t.Cleanup(func() {
		Version = originalVersion
		GitRevision = originalRevision
	})
	Version = version
	GitRevision = revision
}

// Touch is equivalent to unix touch; creates an empty file at path.
func Touch(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path) //nolint:gosec
	test.That(t, err, test.ShouldBeNil)
	f.Close() //nolint:gosec,errcheck
}
