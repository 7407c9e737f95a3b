package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// daemonClient performs JSON calls against the local daemon's diagnostic API.
type daemonClient struct {
	base  string
	httpc *http.Client
}

func newDaemonClient(host string) *daemonClient {
	return &daemonClient{
		base:  strings.TrimRight(host, "/"),
		httpc: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *daemonClient) get(path string) (json.RawMessage, error) {
	return c.roundTrip(http.MethodGet, path, nil)
}

func (c *daemonClient) post(path string, payload interface{}) (json.RawMessage, error) {
	return c.roundTrip(http.MethodPost, path, payload)
}

func (c *daemonClient) roundTrip(method, path string, payload interface{}) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("daemon returned %d: %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	return raw, nil
}

// printJSON pretty-prints a raw JSON value to stdout.
func printJSON(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		// Not valid JSON; print as-is.
		fmt.Println(string(raw))
		return nil
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(os.Stdout)
	return err
}
