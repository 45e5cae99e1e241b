// Command test-api checks an App API key against a running helpdesk. It calls the external
// identity endpoint and reports which app the key resolved to, or why it was refused. The
// exit status is 0 only when the key was accepted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/helpdesk-io/helpdesk/internal/api/external"
)

const mePath = "/api/external/v1/me"

type result struct {
	Status int
	Me     *external.MeResponse
	Reason string
}

func (r *result) String() string {
	if r.Me != nil {
		return fmt.Sprintf("accepted: app %s (%s) in organization %s, key %s via %s, seen from %s",
			r.Me.AppName, r.Me.AppID, r.Me.OrganizationID, r.Me.APIKeyID, r.Me.AuthMethod, r.Me.ClientIP)
	}
	return fmt.Sprintf("refused (%d): %s", r.Status, r.Reason)
}

// whoami presents key either in header or, when header is empty, as a bearer token.
func whoami(ctx context.Context, client *http.Client, baseURL, header, key string) (*result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+mePath, nil)
	if err != nil {
		return nil, err
	}
	if header == "" {
		req.Header.Set("Authorization", "Bearer "+key)
	} else {
		req.Header.Set(header, key)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	res := &result{Status: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		me := &external.MeResponse{}
		if err := json.Unmarshal(body, me); err != nil {
			return nil, fmt.Errorf("unexpected identity response: %w", err)
		}
		res.Me = me
		return res, nil
	}

	var failure struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &failure) == nil && failure.Error != "" {
		res.Reason = failure.Error
	} else {
		res.Reason = strings.TrimSpace(string(body))
	}
	return res, nil
}

func main() {
	baseURL := flag.String("url", envOr("HDK_TEST_BASE_URL", "http://localhost:8080"), "helpdesk base URL")
	header := flag.String("header", "X-API-Key", `header carrying the key; "" sends Authorization: Bearer`)
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Parse()

	key := os.Getenv("HDK_TEST_API_KEY")
	if key == "" {
		fmt.Fprintln(os.Stderr, "HDK_TEST_API_KEY is not set")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	res, err := whoami(ctx, http.DefaultClient, *baseURL, *header, key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request failed:", err)
		os.Exit(1)
	}

	fmt.Println(res)
	if res.Me == nil {
		os.Exit(1)
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
