package fileanalysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/onionwatch/onionwatch/internal/models"
)

const (
	maxStringSamples   = 20
	minStringLength    = 8
	maxCarveSignatures = 10
)

// lookPath resolves a tool once; an empty result means unavailable.
func lookPath(tool string) string {
	path, err := exec.LookPath(tool)
	if err != nil {
		return ""
	}
	return path
}

// clamScanner shells out to clamscan.
type clamScanner struct {
	path string
}

func newClamScanner() *clamScanner {
	return &clamScanner{path: lookPath("clamscan")}
}

func (c *clamScanner) Available() bool { return c.path != "" }

func (c *clamScanner) Scan(ctx context.Context, path string) models.MalwareResult {
	cmd := exec.CommandContext(ctx, c.path, "--no-summary", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	// clamscan exits 0 for clean, 1 for detections, anything else is a
	// scanner failure.
	switch code := exitCode(err); code {
	case 0:
		return models.MalwareResult{Success: true, Status: "clean", Detected: false}
	case 1:
		threats := parseClamOutput(stdout.String())
		return models.MalwareResult{Success: true, Status: "infected", Detected: true, Threats: threats}
	default:
		msg := strings.TrimSpace(stderr.String())
		if msg == "" && err != nil {
			msg = err.Error()
		}
		return models.MalwareResult{Success: false, Status: "error", Error: msg}
	}
}

func parseClamOutput(out string) []models.MalwareThreat {
	var threats []models.MalwareThreat
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, "FOUND") {
			continue
		}
		// "<path>: <signature> FOUND"
		idx := strings.LastIndex(line, ": ")
		if idx < 0 {
			continue
		}
		name := strings.TrimSuffix(line[idx+2:], " FOUND")
		threats = append(threats, models.MalwareThreat{Name: name, Type: "signature"})
	}
	return threats
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// stringsTool shells out to strings(1).
type stringsTool struct {
	path string
}

func newStringsTool() *stringsTool {
	return &stringsTool{path: lookPath("strings")}
}

func (s *stringsTool) Available() bool { return s.path != "" }

func (s *stringsTool) Extract(ctx context.Context, path string) models.StringsResult {
	cmd := exec.CommandContext(ctx, s.path, fmt.Sprintf("-n%d", minStringLength), path)
	out, err := cmd.Output()
	if err != nil {
		return models.StringsResult{Success: false, Error: err.Error()}
	}

	var samples []string
	count := 0
	for _, line := range strings.Split(string(out), "\n") {
		if len(line) < minStringLength {
			continue
		}
		count++
		if len(samples) < maxStringSamples {
			samples = append(samples, line)
		}
	}
	return models.StringsResult{Success: true, Count: count, Samples: samples}
}

// exifTool shells out to exiftool -json.
type exifTool struct {
	path string
}

func newExifTool() *exifTool {
	return &exifTool{path: lookPath("exiftool")}
}

func (e *exifTool) Available() bool { return e.path != "" }

func (e *exifTool) Extract(ctx context.Context, path string) models.MetadataResult {
	cmd := exec.CommandContext(ctx, e.path, "-json", path)
	out, err := cmd.Output()
	if err != nil {
		return models.MetadataResult{Success: false, Error: err.Error()}
	}

	var parsed []map[string]interface{}
	if err := json.Unmarshal(out, &parsed); err != nil || len(parsed) == 0 {
		return models.MetadataResult{Success: false, Error: "unparseable metadata output"}
	}

	fields := make(map[string]string, len(parsed[0]))
	for key, value := range parsed[0] {
		fields[key] = fmt.Sprintf("%v", value)
	}
	return models.MetadataResult{Success: true, Fields: fields}
}

// binwalkCarver shells out to binwalk.
type binwalkCarver struct {
	path string
}

func newBinwalkCarver() *binwalkCarver {
	return &binwalkCarver{path: lookPath("binwalk")}
}

func (b *binwalkCarver) Available() bool { return b.path != "" }

func (b *binwalkCarver) Carve(ctx context.Context, path string) models.CarvingResult {
	cmd := exec.CommandContext(ctx, b.path, path)
	out, err := cmd.Output()
	if err != nil {
		return models.CarvingResult{Success: false, Error: err.Error()}
	}

	var signatures []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "DECIMAL") || strings.HasPrefix(line, "---") {
			continue
		}
		signatures = append(signatures, line)
		if len(signatures) == maxCarveSignatures {
			break
		}
	}
	return models.CarvingResult{Success: true, Signatures: signatures}
}
