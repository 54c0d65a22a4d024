package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/heaplane/heaplane/pkg/version"
)

func fakeHub(t *testing.T, hubVersion string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/api/version" {
			http.NotFound(w, req)
			return
		}
		fmt.Fprintf(w, `{"version":%q}`, hubVersion)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("Expected to parse test server URL, got error: %s", err)
	}
	return u.Host
}

func TestConfigureAndRunVersion(t *testing.T) {
	addr := fakeHub(t, "hub-version")

	testCases := []struct {
		options *versionOptions
		out     string
	}{
		{
			newVersionOptions(),
			fmt.Sprintf("Client version: %s\nHub version: %s\n", version.Version, "hub-version"),
		},
		{
			&versionOptions{shortVersion: false, onlyClientVersion: true},
			fmt.Sprintf("Client version: %s\n", version.Version),
		},
		{
			&versionOptions{shortVersion: true, onlyClientVersion: true},
			fmt.Sprintf("%s\n", version.Version),
		},
		{
			&versionOptions{shortVersion: true, onlyClientVersion: false},
			fmt.Sprintf("%s\nhub-version\n", version.Version),
		},
	}

	for i, tc := range testCases {
		tc := tc
		t.Run(fmt.Sprintf("test %d", i), func(t *testing.T) {
			wout := bytes.NewBufferString("")
			configureAndRunVersion(context.Background(), tc.options, wout, addr)
			if tc.out != wout.String() {
				t.Fatalf("Expected output: %q, got: %q", tc.out, wout.String())
			}
		})
	}
}

func TestVersionUnreachableHub(t *testing.T) {
	wout := bytes.NewBufferString("")
	configureAndRunVersion(context.Background(), newVersionOptions(), wout, "localhost:1")
	expected := fmt.Sprintf("Client version: %s\nHub version: %s\n", version.Version, defaultVersionString)
	if wout.String() != expected {
		t.Fatalf("Expected output: %q, got: %q", expected, wout.String())
	}
}
