// Package version checks a remote download page for the latest server
// release and compares it against the running one.
package version

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/tilewind/bedrockd/internal/hook"
)

// Current is the wrapper's own version, set at build time via
// -ldflags "-X github.com/tilewind/bedrockd/internal/version.Current=...".
var Current = "0.0.0-dev"

var versionRe = regexp.MustCompile(`([0-9]+)\.([0-9]+)\.([0-9]+)(?:\.[0-9]+)?`)

// Checker fetches and parses the remote version string.
type Checker struct {
	URL    string
	Client *http.Client
}

func NewChecker(url string) *Checker {
	return &Checker{
		URL:    url,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Latest fetches the remote page and extracts the first dotted version
// it finds.
func (c *Checker) Latest() (string, error) {
	resp, err := c.Client.Get(c.URL)
	if err != nil {
		return "", fmt.Errorf("fetch version page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("version page returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read version page: %w", err)
	}
	m := versionRe.Find(body)
	if m == nil {
		return "", fmt.Errorf("no version string found at %s", c.URL)
	}
	return string(m), nil
}

// UpdateAvailable reports whether remote is newer than installed.
func UpdateAvailable(installed, remote string) bool {
	return hook.CompareVersions(remote, installed) > 0
}
