package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/clarketm/json"
	"github.com/gorilla/websocket"
	"github.com/heaplane/heaplane/pkg/protocol"
	"github.com/heaplane/heaplane/pkg/version"
)

// checkableHub serves just enough surface for every check to pass: health,
// services, version, and a dashboard socket that greets with initial.
func checkableHub(t *testing.T, hubVersion string) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch {
		case strings.Contains(req.URL.Path, "dashboard"):
			conn, err := upgrader.Upgrade(w, req, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			payload, _ := json.Marshal(protocol.NewInitialEvent(nil, nil))
			conn.WriteMessage(websocket.TextMessage, payload)
			conn.ReadMessage()
		case req.URL.Path == "/health":
			w.Write([]byte(`{"status":"ok","timestamp":1,"services":0,"alerts":0}`))
		case req.URL.Path == "/api/services":
			w.Write([]byte(`[]`))
		case req.URL.Path == "/api/version":
			w.Write([]byte(`{"version":"` + hubVersion + `"}`))
		default:
			http.NotFound(w, req)
		}
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("Expected to parse test server URL, got error: %s", err)
	}
	return u.Host
}

func TestRunChecksAgainstHealthyHub(t *testing.T) {
	prevAddr := apiAddr
	apiAddr = checkableHub(t, version.Version)
	defer func() { apiAddr = prevAddr }()

	wout := bytes.NewBufferString("")
	options := &checkOptions{wait: time.Second, outputFormat: tableOutput}
	if !runChecks(context.Background(), wout, options) {
		t.Fatalf("Expected checks to pass, output:\n%s", wout.String())
	}

	out := wout.String()
	for _, expected := range []string{
		"hub API is reachable",
		"hub reports itself healthy",
		"hub can list services",
		"dashboard endpoint accepts subscribers",
		"cli and hub versions match",
	} {
		if !strings.Contains(out, expected) {
			t.Errorf("Expected output to mention %q:\n%s", expected, out)
		}
	}
}

func TestRunChecksVersionMismatchIsWarning(t *testing.T) {
	prevAddr := apiAddr
	apiAddr = checkableHub(t, "something-else")
	defer func() { apiAddr = prevAddr }()

	wout := bytes.NewBufferString("")
	options := &checkOptions{wait: time.Second, outputFormat: jsonOutput}
	if !runChecks(context.Background(), wout, options) {
		t.Fatalf("Expected a version mismatch to stay a warning, output:\n%s", wout.String())
	}

	var out checkOutput
	if err := json.Unmarshal(wout.Bytes(), &out); err != nil {
		t.Fatalf("Expected JSON output, got error: %s\n%s", err, wout.String())
	}
	if !out.Success {
		t.Errorf("Expected success despite the warning: %+v", out)
	}

	last := out.Results[len(out.Results)-1]
	if !last.Warning || last.Error == "" {
		t.Errorf("Expected a warning result with an error message, got %+v", last)
	}
}

func TestRunChecksUnreachableHub(t *testing.T) {
	prevAddr := apiAddr
	apiAddr = "localhost:1"
	defer func() { apiAddr = prevAddr }()

	wout := bytes.NewBufferString("")
	options := &checkOptions{wait: 0, outputFormat: tableOutput}
	if runChecks(context.Background(), wout, options) {
		t.Fatalf("Expected checks to fail, output:\n%s", wout.String())
	}
	if !strings.Contains(wout.String(), failStatus) {
		t.Errorf("Expected a failed status glyph in output:\n%s", wout.String())
	}
}
