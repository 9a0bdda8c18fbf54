package oxia

import (
	"os"
	"testing"

	"github.com/oxia-db/oxia/oxiad/dataserver"
)

// testServer is an embedded Oxia standalone server.
type testServer struct {
	standalone *dataserver.Standalone
	addr       string
}

// startTestServer returns OXIA_SERVICE_ADDRESS when set, and otherwise
// starts an embedded standalone server that is closed via t.Cleanup.
func startTestServer(t *testing.T) *testServer {
	t.Helper()

	if addr := os.Getenv("OXIA_SERVICE_ADDRESS"); addr != "" {
		t.Logf("Using external Oxia server at %s", addr)
		return &testServer{addr: addr}
	}

	dir := t.TempDir()
	standalone, err := dataserver.NewStandalone(dataserver.NewTestConfig(dir))
	if err != nil {
		t.Fatalf("failed to start Oxia standalone server: %v", err)
	}
	s := &testServer{standalone: standalone, addr: standalone.ServiceAddr()}
	t.Cleanup(func() { s.standalone.Close() })
	return s
}
