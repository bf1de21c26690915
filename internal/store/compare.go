package store

import (
	"context"
	"fmt"

	"github.com/onionwatch/onionwatch/internal/models"
)

// Compare pairs the two most recent ONLINE scans of a target with the delta
// between them. ErrNotFound when fewer than two ONLINE records exist.
func (s *Store) Compare(ctx context.Context, fingerprint string) (*models.Comparison, error) {
	recs, err := s.OnlineScansFor(ctx, fingerprint, 2)
	if err != nil {
		return nil, err
	}
	if len(recs) < 2 {
		return nil, ErrNotFound
	}
	cmp := BuildComparison(&recs[0], &recs[1])
	return &cmp, nil
}

// BuildComparison computes the structured delta between two scans of the
// same target, current first.
func BuildComparison(current, previous *models.ScanRecord) models.Comparison {
	changes := models.ComparisonChanges{
		ThreatScoreDelta: current.ThreatScore - previous.ThreatScore,
		RiskLevelChanged: current.RiskLevel != previous.RiskLevel,
		StatusChanged:    current.URLStatus != previous.URLStatus,
		CategoryChanged:  current.Category != previous.Category,
		NewEmails:        countNew(current.Emails, previous.Emails),
		NewCrypto:        countNew(current.CryptoAddresses, previous.CryptoAddresses),
	}

	var reasons []string
	if changes.StatusChanged {
		reasons = append(reasons, fmt.Sprintf("status changed from %s to %s", previous.URLStatus, current.URLStatus))
	}
	if changes.CategoryChanged {
		reasons = append(reasons, fmt.Sprintf("category changed from %s to %s", previous.Category, current.Category))
	}
	if changes.ThreatScoreDelta != 0 {
		reasons = append(reasons, fmt.Sprintf("threat score changed by %+d (%d to %d)",
			changes.ThreatScoreDelta, previous.ThreatScore, current.ThreatScore))
	}
	if changes.NewEmails > 0 {
		reasons = append(reasons, fmt.Sprintf("%d new email address(es)", changes.NewEmails))
	}
	if changes.NewCrypto > 0 {
		reasons = append(reasons, fmt.Sprintf("%d new crypto address(es)", changes.NewCrypto))
	}
	if current.MalwareDetected() && !previous.MalwareDetected() {
		reasons = append(reasons, "malware detected in downloaded files")
	}
	if current.ContentChanged {
		reasons = append(reasons, "page content changed")
	}

	return models.Comparison{
		Current:  current,
		Previous: previous,
		Changes:  changes,
		Reasons:  reasons,
	}
}

// countNew returns how many entries of curr are absent from prev.
func countNew(curr, prev []string) int {
	seen := make(map[string]struct{}, len(prev))
	for _, v := range prev {
		seen[v] = struct{}{}
	}
	n := 0
	for _, v := range curr {
		if _, ok := seen[v]; !ok {
			n++
		}
	}
	return n
}
