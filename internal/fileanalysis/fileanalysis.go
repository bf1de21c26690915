// Package fileanalysis hashes downloaded blobs and runs the optional
// forensic capability providers over them: malware signature scanning,
// printable-strings extraction, metadata extraction and format carving.
// A missing provider yields a not_available result and never aborts a scan.
package fileanalysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/onionwatch/onionwatch/internal/download"
	"github.com/onionwatch/onionwatch/internal/models"
)

// ErrNotAvailable is the error code reported for absent providers.
const ErrNotAvailable = "not_available"

// SignatureScanner checks a file against a malware signature database.
type SignatureScanner interface {
	Available() bool
	Scan(ctx context.Context, path string) models.MalwareResult
}

// StringsExtractor pulls printable runs out of a binary.
type StringsExtractor interface {
	Available() bool
	Extract(ctx context.Context, path string) models.StringsResult
}

// MetadataExtractor reads file metadata as a flat key/value mapping.
type MetadataExtractor interface {
	Available() bool
	Extract(ctx context.Context, path string) models.MetadataResult
}

// Carver detects embedded format signatures.
type Carver interface {
	Available() bool
	Carve(ctx context.Context, path string) models.CarvingResult
}

// Config holds analyser settings.
type Config struct {
	Timeout time.Duration
	WorkDir string // scratch space for provider input files
}

// Analyzer runs all providers over downloaded files.
type Analyzer struct {
	timeout time.Duration
	workDir string

	Scanner  SignatureScanner
	Strings  StringsExtractor
	Metadata MetadataExtractor
	Carver   Carver
}

// New builds an Analyzer with the external-tool providers, probing the
// system for each tool once at startup.
func New(cfg Config) *Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	a := &Analyzer{
		timeout:  cfg.Timeout,
		workDir:  cfg.WorkDir,
		Scanner:  newClamScanner(),
		Strings:  newStringsTool(),
		Metadata: newExifTool(),
		Carver:   newBinwalkCarver(),
	}
	log.Info().
		Bool("signatureScanner", a.Scanner.Available()).
		Bool("strings", a.Strings.Available()).
		Bool("metadata", a.Metadata.Available()).
		Bool("carving", a.Carver.Available()).
		Msg("File analysis providers probed")
	return a
}

// AnalyzeFiles hashes each file and runs every provider over it. Files with
// the same hash are analysed once; the duplicate entries are dropped.
func (a *Analyzer) AnalyzeFiles(ctx context.Context, files []download.File) []models.FileAnalysis {
	seen := make(map[string]struct{}, len(files))
	var analyses []models.FileAnalysis

	for _, file := range files {
		sum := sha256.Sum256(file.Data)
		hash := hex.EncodeToString(sum[:])
		if _, dup := seen[hash]; dup {
			log.Debug().Str("hash", hash).Str("url", file.URL).Msg("Duplicate file skipped")
			continue
		}
		seen[hash] = struct{}{}

		analysis := models.FileAnalysis{
			FileURL:     file.URL,
			FileName:    file.Name,
			ContentType: file.ContentType,
			FileSize:    file.Size,
			FileHash:    hash,
		}

		path, err := a.writeScratch(file.Name, file.Data)
		if err != nil {
			log.Error().Err(err).Str("file", file.Name).Msg("Unable to stage file for analysis")
			analysis.Malware = models.MalwareResult{Success: false, Error: err.Error()}
			analysis.Strings = models.StringsResult{Success: false, Error: err.Error()}
			analysis.Metadata = models.MetadataResult{Success: false, Error: err.Error()}
			analysis.Carving = models.CarvingResult{Success: false, Error: err.Error()}
			analyses = append(analyses, analysis)
			continue
		}

		analysis.Malware = a.runScanner(ctx, path)
		analysis.Strings = a.runStrings(ctx, path)
		analysis.Metadata = a.runMetadata(ctx, path)
		analysis.Carving = a.runCarver(ctx, path)

		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Scratch file not removed")
		}

		if analysis.Malware.Detected {
			log.Warn().
				Str("file", file.Name).
				Str("hash", hash).
				Int("threats", len(analysis.Malware.Threats)).
				Msg("Malware detected in downloaded file")
		}
		analyses = append(analyses, analysis)
	}
	return analyses
}

func (a *Analyzer) writeScratch(name string, data []byte) (string, error) {
	f, err := os.CreateTemp(a.workDir, "onionwatch-*-"+filepath.Base(name))
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (a *Analyzer) runScanner(ctx context.Context, path string) models.MalwareResult {
	if a.Scanner == nil || !a.Scanner.Available() {
		return models.MalwareResult{Success: false, Error: ErrNotAvailable}
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.Scanner.Scan(ctx, path)
}

func (a *Analyzer) runStrings(ctx context.Context, path string) models.StringsResult {
	if a.Strings == nil || !a.Strings.Available() {
		return models.StringsResult{Success: false, Error: ErrNotAvailable}
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.Strings.Extract(ctx, path)
}

func (a *Analyzer) runMetadata(ctx context.Context, path string) models.MetadataResult {
	if a.Metadata == nil || !a.Metadata.Available() {
		return models.MetadataResult{Success: false, Error: ErrNotAvailable}
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.Metadata.Extract(ctx, path)
}

func (a *Analyzer) runCarver(ctx context.Context, path string) models.CarvingResult {
	if a.Carver == nil || !a.Carver.Available() {
		return models.CarvingResult{Success: false, Error: ErrNotAvailable}
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.Carver.Carve(ctx, path)
}
