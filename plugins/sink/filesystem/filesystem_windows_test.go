//go:build windows

package filesystem

import (
	"errors"
	"testing"

	"submeta/pkg/contract"
)

func TestMapPathInvalidWindows(t *testing.T) {
	w, _ := New(t.TempDir(), nil)
	for _, id := range []string{`C:\x`, `..\x`, `\\server\share\x`} {
		if _, err := w.mapPath(contract.ArtifactID(id)); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("%s: expect ErrPathInvalid, got %v", id, err)
		}
	}
}
