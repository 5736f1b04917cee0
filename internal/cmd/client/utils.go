package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// tokenFromEnv returns the bearer token from CANVASS_TOKEN, if set.
func tokenFromEnv() string { return os.Getenv("CANVASS_TOKEN") }

// doJSON performs a JSON API call and returns the decoded envelope body.
func doJSON(baseURL BaseURLFunc, method, path string, body any) (map[string]any, int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, baseURL()+path, rd)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := tokenFromEnv(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return nil, resp.StatusCode, err
	}
	return out, resp.StatusCode, nil
}

// printJSON pretty-prints v to the command's stdout writer.
func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// printResult prints the envelope and converts API failures into an error.
func printResult(w io.Writer, body map[string]any, status int) error {
	printJSON(w, body)
	if status >= 400 {
		msg, _ := body["error"].(string)
		if msg == "" {
			msg = fmt.Sprintf("http %d", status)
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}

// parseKVs converts repeated key=value flags into a map.
func parseKVs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid key=value pair %q", p)
		}
		out[k] = v
	}
	return out, nil
}
