package version

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCheckClientVersion(t *testing.T) {
	testCases := []struct {
		expected string
		actual   string
		err      error
	}{
		{"dev-1.2.3", "dev-1.2.3", nil},
		{"dev-1.2.4", "dev-1.2.3", errors.New("is running version dev-1.2.3 but the latest version is dev-1.2.4")},
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("test %d check(%s, %s)", i, tc.expected, tc.actual), func(t *testing.T) {
			Version = tc.actual
			err := CheckClientVersion(tc.expected)
			if (err == nil && tc.err != nil) ||
				(err != nil && tc.err == nil) ||
				((err != nil && tc.err != nil) && (err.Error() != tc.err.Error())) {
				t.Fatalf("Expected \"%s\", got \"%s\"", tc.err, err)
			}
		})
	}
}

func TestGetServerVersion(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/api/version" {
			http.NotFound(w, req)
			return
		}
		w.Write([]byte(`{"version":"dev-9.9.9"}`))
	}))
	defer ts.Close()

	version, err := GetServerVersion(context.Background(), strings.TrimPrefix(ts.URL, "http://"))
	if err != nil {
		t.Fatalf("Expected version fetch to succeed, got %s", err)
	}
	if version != "dev-9.9.9" {
		t.Fatalf("Expected dev-9.9.9, got %s", version)
	}
}

func TestGetServerVersionBadPayload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"release":"nope"}`))
	}))
	defer ts.Close()

	if _, err := GetServerVersion(context.Background(), strings.TrimPrefix(ts.URL, "http://")); err == nil {
		t.Fatalf("Expected an error for a payload without a version field")
	}
}
