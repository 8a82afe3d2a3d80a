// Package netx holds HTTP helpers shared by the provider clients.
package netx

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shilei2024/foodai/internal/common"
)

// maxErrorBody caps how much of a failed response ends up in an error.
const maxErrorBody = 512

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed: %s; body: %s", e.Status, e.Body)
}

// Is classifies the response: 4xx is a rejection by the remote side,
// anything else is treated as a transient network failure.
func (e *StatusError) Is(target error) bool {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return target == common.ErrRemoteRejected
	}
	return target == common.ErrNetwork
}

// DoJSON sends req and decodes a 2xx JSON body into out (when out is not nil).
// Transport failures match common.ErrNetwork.
func DoJSON(client *http.Client, req *http.Request, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w: %w", common.ErrNetwork, err)
	}
	return nil
}
