// Package models defines the shared data types for scan records, monitors,
// indicators of compromise and alerts.
package models

import (
	"time"
)

// URLStatus classifies the outcome of a fetch attempt.
type URLStatus string

const (
	StatusOnline  URLStatus = "ONLINE"
	StatusOffline URLStatus = "OFFLINE"
	StatusTimeout URLStatus = "TIMEOUT"
	StatusError   URLStatus = "ERROR"
)

// RiskLevel buckets a threat score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// RiskLevelForScore maps a threat score (0..100) to its risk level.
// LOW covers 0-30, MEDIUM 31-70, HIGH 71-100.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score <= 30:
		return RiskLow
	case score <= 70:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// Link is an anchor extracted from a page.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// FileLink is a link whose URL path ends in a downloadable extension.
type FileLink struct {
	URL       string `json:"url"`
	Text      string `json:"text,omitempty"`
	Extension string `json:"extension"`
}

// MalwareThreat is a single detection reported by the signature scanner.
type MalwareThreat struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// MalwareResult is the signature scanner capability output.
type MalwareResult struct {
	Success  bool            `json:"success"`
	Status   string          `json:"status,omitempty"`
	Detected bool            `json:"detected"`
	Threats  []MalwareThreat `json:"threats,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// StringsResult is the printable-strings capability output.
type StringsResult struct {
	Success bool     `json:"success"`
	Count   int      `json:"count"`
	Samples []string `json:"samples,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// MetadataResult is the metadata extraction capability output.
type MetadataResult struct {
	Success bool              `json:"success"`
	Fields  map[string]string `json:"fields,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// CarvingResult is the embedded-signature carving capability output.
type CarvingResult struct {
	Success    bool     `json:"success"`
	Signatures []string `json:"signatures,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// FileAnalysis holds the forensic results for one downloaded file.
type FileAnalysis struct {
	FileURL     string         `json:"fileUrl"`
	FileName    string         `json:"fileName"`
	ContentType string         `json:"contentType"`
	FileSize    int64          `json:"fileSize"`
	FileHash    string         `json:"fileHash"`
	Malware     MalwareResult  `json:"malware"`
	Strings     StringsResult  `json:"strings"`
	Metadata    MetadataResult `json:"metadata"`
	Carving     CarvingResult  `json:"carving"`
}

// ThreatIndicators summarises the signals behind a classification.
type ThreatIndicators struct {
	KeywordMatches  int      `json:"keywordMatches"`
	MatchedKeywords []string `json:"matchedKeywords"`
	CryptoDetected  bool     `json:"cryptoDetected"`
	EmailDetected   bool     `json:"emailDetected"`
	MalwareDetected bool     `json:"malwareDetected"`
}

// StatusObservation is one entry in a target's status history.
type StatusObservation struct {
	Timestamp    time.Time `json:"timestamp"`
	URLStatus    URLStatus `json:"urlStatus"`
	StatusCode   *int      `json:"statusCode,omitempty"`
	ResponseTime *float64  `json:"responseTime,omitempty"`
}

// ScanRecord is one observation of a target. Records are append-only.
type ScanRecord struct {
	ID              string           `json:"id"`
	URL             string           `json:"url"`
	Fingerprint     string           `json:"fingerprint"`
	Timestamp       time.Time        `json:"timestamp"`
	URLStatus       URLStatus        `json:"urlStatus"`
	StatusCode      *int             `json:"statusCode,omitempty"`
	ResponseTime    *float64         `json:"responseTime,omitempty"`
	Title           string           `json:"title,omitempty"`
	ContentPreview  string           `json:"contentPreview,omitempty"`
	ContentHash     string           `json:"contentHash,omitempty"`
	Keywords        []string         `json:"keywords,omitempty"`
	Emails          []string         `json:"emails,omitempty"`
	CryptoAddresses []string         `json:"cryptoAddresses,omitempty"`
	PGPDetected     bool             `json:"pgpDetected"`
	Links           []Link           `json:"links,omitempty"`
	FileLinks       []FileLink       `json:"fileLinks,omitempty"`
	FileAnalyses    []FileAnalysis   `json:"fileAnalyses,omitempty"`
	ThreatScore     int              `json:"threatScore"`
	RiskLevel       RiskLevel        `json:"riskLevel"`
	Category        string           `json:"category"`
	Confidence      float64          `json:"confidence"`
	Indicators      ThreatIndicators `json:"threatIndicators"`
	ContentChanged  bool             `json:"contentChanged"`
}

// MalwareDetected reports whether any file analysis flagged malware.
func (r *ScanRecord) MalwareDetected() bool {
	for _, fa := range r.FileAnalyses {
		if fa.Malware.Detected {
			return true
		}
	}
	return false
}

// MalwareThreatNames lists the distinct threat names across file analyses.
func (r *ScanRecord) MalwareThreatNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, fa := range r.FileAnalyses {
		for _, t := range fa.Malware.Threats {
			if _, ok := seen[t.Name]; ok {
				continue
			}
			seen[t.Name] = struct{}{}
			names = append(names, t.Name)
		}
	}
	return names
}

// TargetSummary is the per-target rollup document carrying the append-only
// status history used for trend queries.
type TargetSummary struct {
	Fingerprint   string              `json:"fingerprint"`
	URL           string              `json:"url"`
	StatusHistory []StatusObservation `json:"statusHistory"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// IOCType identifies the kind of an indicator of compromise.
type IOCType string

const (
	IOCEmail    IOCType = "email"
	IOCCrypto   IOCType = "crypto"
	IOCFileHash IOCType = "file_hash"
)

// IOCRecord is one observation of an indicator on a target. Rows are
// append-only; the distinct targets for a (type, value) pair form its
// reuse set.
type IOCRecord struct {
	Type      IOCType   `json:"iocType"`
	Value     string    `json:"iocValue"`
	Target    string    `json:"target"`
	Timestamp time.Time `json:"timestamp"`
}

// ScanSummary is the subset of a scan embedded in a monitor row.
type ScanSummary struct {
	Status          URLStatus `json:"status"`
	ThreatScore     int       `json:"threatScore"`
	RiskLevel       RiskLevel `json:"riskLevel"`
	Category        string    `json:"category"`
	EmailCount      int       `json:"emailCount"`
	CryptoCount     int       `json:"cryptoCount"`
	MalwareDetected bool      `json:"malwareDetected"`
}

// Monitor is a registered periodic rescan of a target.
type Monitor struct {
	ID              string       `json:"id"`
	URL             string       `json:"url"`
	Owner           string       `json:"owner"`
	IntervalMinutes int          `json:"interval"`
	Paused          bool         `json:"paused"`
	CreatedAt       time.Time    `json:"createdAt"`
	LastScan        *time.Time   `json:"lastScan,omitempty"`
	NextScan        time.Time    `json:"nextScan"`
	ScanCount       int          `json:"scanCount"`
	LastScanSummary *ScanSummary `json:"lastScanSummary,omitempty"`
}

// AlertType identifies which rule produced an alert.
type AlertType string

const (
	AlertThreatIncrease  AlertType = "threat_increase"
	AlertStatusChange    AlertType = "status_change"
	AlertContentChange   AlertType = "content_change"
	AlertMalwareDetected AlertType = "malware_detected"
	AlertIOCReuse        AlertType = "ioc_reuse"
)

// AlertSeverity grades an alert.
type AlertSeverity string

const (
	SeverityLow    AlertSeverity = "LOW"
	SeverityMedium AlertSeverity = "MEDIUM"
	SeverityHigh   AlertSeverity = "HIGH"
)

// AlertStatus tracks acknowledgement. Alerts move new -> acknowledged once.
type AlertStatus string

const (
	AlertNew          AlertStatus = "new"
	AlertAcknowledged AlertStatus = "acknowledged"
)

// Alert is an emitted alert record. Immutable after creation except Status.
type Alert struct {
	ID            string                 `json:"id"`
	Target        string                 `json:"target"`
	Type          AlertType              `json:"alertType"`
	Severity      AlertSeverity          `json:"severity"`
	Reason        string                 `json:"reason"`
	ThreatScore   int                    `json:"threatScore"`
	PreviousScore int                    `json:"previousScore"`
	ScoreIncrease int                    `json:"scoreIncrease"`
	Details       map[string]interface{} `json:"details,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Status        AlertStatus            `json:"status"`
}

// ComparisonChanges is the structured delta between two scans.
type ComparisonChanges struct {
	ThreatScoreDelta int  `json:"threatScoreDelta"`
	RiskLevelChanged bool `json:"riskLevelChanged"`
	StatusChanged    bool `json:"statusChanged"`
	CategoryChanged  bool `json:"categoryChanged"`
	NewEmails        int  `json:"newEmails"`
	NewCrypto        int  `json:"newCrypto"`
}

// Comparison pairs the two most recent ONLINE scans of a target with the
// delta between them.
type Comparison struct {
	Current  *ScanRecord       `json:"current"`
	Previous *ScanRecord       `json:"previous"`
	Changes  ComparisonChanges `json:"changes"`
	Reasons  []string          `json:"reasons"`
}
