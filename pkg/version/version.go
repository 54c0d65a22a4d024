package version

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Version is updated automatically as part of the build process
//
// DO NOT EDIT
var Version = undefinedVersion

const undefinedVersion = "undefined"

func init() {
	// Use `$HEAPLANE_VERSION_OVERRIDE` as the version only if the version
	// wasn't set at link time. This allows the version to be bound at
	// container build time instead of at executable link time.
	if Version == undefinedVersion {
		override := os.Getenv("HEAPLANE_VERSION_OVERRIDE")
		if override != "" {
			Version = override
		}
	}
}

// CheckClientVersion validates the running client against expectedVersion.
func CheckClientVersion(expectedVersion string) error {
	if Version != expectedVersion {
		return versionMismatchError(expectedVersion, Version)
	}

	return nil
}

// CheckServerVersion validates the hub reachable at apiAddr against
// expectedVersion.
func CheckServerVersion(ctx context.Context, apiAddr string, expectedVersion string) error {
	version, err := GetServerVersion(ctx, apiAddr)
	if err != nil {
		return err
	}

	if version != expectedVersion {
		return versionMismatchError(expectedVersion, version)
	}

	return nil
}

// GetServerVersion fetches the version string the hub reports on its REST
// surface.
func GetServerVersion(ctx context.Context, apiAddr string) (string, error) {
	req, err := http.NewRequest("GET", fmt.Sprintf("http://%s/api/version", apiAddr), nil)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rsp, err := http.DefaultClient.Do(req.WithContext(ctx))
	if err != nil {
		return "", err
	}
	defer rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected version response: %s", rsp.Status)
	}

	bytes, err := io.ReadAll(rsp.Body)
	if err != nil {
		return "", err
	}

	var versionRsp map[string]string
	err = json.Unmarshal(bytes, &versionRsp)
	if err != nil {
		return "", err
	}

	version, ok := versionRsp["version"]
	if !ok {
		return "", fmt.Errorf("unexpected version response: %s", bytes)
	}

	return version, nil
}

func versionMismatchError(expectedVersion, actualVersion string) error {
	return fmt.Errorf("is running version %s but the latest version is %s",
		actualVersion, expectedVersion)
}
