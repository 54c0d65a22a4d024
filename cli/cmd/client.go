package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const apiTimeout = 10 * time.Second

// healthPayload mirrors the hub's health response.
type healthPayload struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Services  int    `json:"services"`
	Alerts    int    `json:"alerts"`
}

// apiURL builds the http URL for a hub endpoint.
func apiURL(path string) string {
	return fmt.Sprintf("http://%s%s", apiAddr, path)
}

// wsURL builds the websocket URL for the hub's subscription endpoint.
func wsURL(path string) string {
	return fmt.Sprintf("ws://%s%s", apiAddr, path)
}

// apiGet fetches a hub endpoint and decodes the JSON payload into out.
func apiGet(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL(path), nil)
	if err != nil {
		return err
	}
	return doAPIRequest(req, out)
}

// apiPost sends a JSON body to a hub endpoint and decodes the response.
func apiPost(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doAPIRequest(req, out)
}

func doAPIRequest(req *http.Request, out interface{}) error {
	client := &http.Client{Timeout: apiTimeout}
	rsp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach the hub at %s: %s", apiAddr, err)
	}
	defer rsp.Body.Close()

	payload, err := io.ReadAll(rsp.Body)
	if err != nil {
		return err
	}
	if rsp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("hub: %s", apiErr.Error)
		}
		return fmt.Errorf("hub returned unexpected status %d", rsp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(payload, out)
}
