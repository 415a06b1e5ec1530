// Package subject derives a study subject label from the directory layout of
// an exported archive. Site exports place each participant's files under a
// folder whose name carries the institutional identifier (e.g. NACC001234),
// so the label is recoverable from the entry path alone.
package subject

import (
	"fmt"
	"strings"
)

// Resolver finds the subject-bearing path segment for archive entries. The
// token is the institutional identifier fragment configured per site.
type Resolver struct {
	token string
}

func NewResolver(token string) (*Resolver, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("subject token must not be empty")
	}

	return &Resolver{token: token}, nil
}

// Resolve scans the /-separated segments of archivePath from root to leaf and
// returns the first one containing the token. First match wins; the scan order
// must stay stable so that re-runs on the same archive resolve identically.
func (r *Resolver) Resolve(archivePath string) (string, bool) {
	for _, segment := range strings.Split(archivePath, "/") {
		if segment == "" {
			continue
		}

		if strings.Contains(segment, r.token) {
			return segment, true
		}
	}

	return "", false
}
