package symbols

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildFixture links the fixture source for goos/amd64 with its symbol table
// kept, whatever linker flags the test binary itself was built with.
func buildFixture(t *testing.T, src, goos string) string {
	t.Helper()
	gobin, err := exec.LookPath("go")
	if err != nil {
		gobin = filepath.Join(runtime.GOROOT(), "bin", "go")
		if _, err := os.Stat(gobin); err != nil {
			t.Skip("go command not found")
		}
	}
	out := filepath.Join(t.TempDir(), "fixture")
	cmd := exec.Command(gobin, "build", "-o", out, "-ldflags=", src)
	cmd.Env = append(os.Environ(), "GOFLAGS=", "CGO_ENABLED=0", "GOOS="+goos, "GOARCH=amd64")
	msg, err := cmd.CombinedOutput()
	require.NoError(t, err, "%s", msg)
	return out
}
