// Package analysis runs indicator extraction, tiered threat scoring and
// category classification over normalised page text. Scoring is rule based
// and deterministic; the same input always yields the same result.
package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/onionwatch/onionwatch/internal/models"
)

var (
	emailRe = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
	// The leading alternation must be non-capturing: with a capturing
	// group FindAllString-style semantics would return just the prefix
	// instead of the full address.
	btcRe = regexp.MustCompile(`\b(?:bc1|[13])[a-zA-HJ-NP-Z0-9]{25,39}\b`)
	ethRe = regexp.MustCompile(`\b0x[a-fA-F0-9]{40}\b`)
	xmrRe = regexp.MustCompile(`\b4[0-9AB][1-9A-HJ-NP-Za-km-z]{93}\b`)
)

const maxMatchedKeywords = 5

// Input is everything the analyser needs for one page. Analyze tokenizes
// Text itself; dictionary keywords extracted during parsing stay on the
// scan record only.
type Input struct {
	Text            string // normalised page text
	PGPDetected     bool
	MalwareDetected bool
}

// Result is the full analysis outcome.
type Result struct {
	Emails          []string
	CryptoAddresses []string
	ContentHash     string
	ThreatScore     int
	RiskLevel       models.RiskLevel
	Category        string
	Confidence      float64
	Indicators      models.ThreatIndicators
}

// Analyzer applies a rule set. Rules may be swapped at runtime by the
// watcher; reads take a snapshot.
type Analyzer struct {
	mu    sync.RWMutex
	rules *Rules
}

// New creates an Analyzer; nil rules fall back to the defaults.
func New(rules *Rules) *Analyzer {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Analyzer{rules: rules}
}

// Rules returns the active rule set.
func (a *Analyzer) Rules() *Rules {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rules
}

// SetRules replaces the active rule set.
func (a *Analyzer) SetRules(rules *Rules) {
	if rules == nil {
		return
	}
	a.mu.Lock()
	a.rules = rules
	a.mu.Unlock()
	log.Info().
		Int("categories", len(rules.Categories)).
		Msg("Analysis rules updated")
}

// Dictionary returns the keyword dictionary of the active rules.
func (a *Analyzer) Dictionary() map[string]struct{} {
	return a.Rules().Dictionary()
}

// Analyze extracts indicators and classifies the page.
func (a *Analyzer) Analyze(in Input) Result {
	rules := a.Rules()

	emails := ExtractEmails(in.Text)
	crypto := ExtractCryptoAddresses(in.Text)

	tokens := tokenSet(in.Text)
	matched := matchTiers(rules, tokens, in.Text)

	score := 0
	for _, m := range matched {
		score += m.points
	}
	if len(emails) > 0 && len(crypto) > 0 {
		score += rules.Weights.DualIndicatorBonus
	}
	if len(emails) > 0 {
		score += rules.Weights.ContactBonus
	}
	if in.MalwareDetected {
		score += rules.Weights.MalwareBonus
	}
	if in.PGPDetected {
		score += rules.Weights.PGPBonus
	}
	if score > 100 {
		score = 100
	}

	category, categoryWeight := classify(rules, tokens, in.Text)

	confidence := computeConfidence(len(matched), len(crypto), len(emails), in.MalwareDetected, category, categoryWeight)

	matchedNames := make([]string, 0, len(matched))
	for _, m := range matched {
		matchedNames = append(matchedNames, m.term)
	}
	if len(matchedNames) > maxMatchedKeywords {
		matchedNames = matchedNames[:maxMatchedKeywords]
	}

	result := Result{
		Emails:          emails,
		CryptoAddresses: crypto,
		ContentHash:     HashContent(in.Text),
		ThreatScore:     score,
		RiskLevel:       models.RiskLevelForScore(score),
		Category:        category,
		Confidence:      confidence,
		Indicators: models.ThreatIndicators{
			KeywordMatches:  len(matched),
			MatchedKeywords: matchedNames,
			CryptoDetected:  len(crypto) > 0,
			EmailDetected:   len(emails) > 0,
			MalwareDetected: in.MalwareDetected,
		},
	}

	if score > 50 {
		log.Warn().
			Int("threatScore", score).
			Str("category", category).
			Str("riskLevel", string(result.RiskLevel)).
			Msg("High threat content detected")
	}
	return result
}

// HashContent returns the SHA-256 hex digest of the normalised text, or ""
// for empty text.
func HashContent(text string) string {
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ExtractEmails finds email addresses, lowercased and deduplicated.
func ExtractEmails(text string) []string {
	raw := emailRe.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(raw))
	var emails []string
	for _, e := range raw {
		lower := strings.ToLower(e)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		emails = append(emails, lower)
	}
	return emails
}

// ExtractCryptoAddresses finds Bitcoin, Ethereum and Monero addresses,
// deduplicated case-insensitively with original casing preserved.
func ExtractCryptoAddresses(text string) []string {
	var raw []string
	raw = append(raw, btcRe.FindAllString(text, -1)...)
	raw = append(raw, ethRe.FindAllString(text, -1)...)
	raw = append(raw, xmrRe.FindAllString(text, -1)...)

	seen := make(map[string]struct{}, len(raw))
	var addrs []string
	for _, a := range raw {
		key := strings.ToLower(a)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		addrs = append(addrs, a)
	}
	return addrs
}

type tierMatch struct {
	term   string
	points int
}

// matchTiers returns each tier term present in the page, counted once
// regardless of frequency. Single-word terms match exact tokens;
// terms with separators match as substrings of the full text.
func matchTiers(rules *Rules, tokens map[string]struct{}, text string) []tierMatch {
	lowerText := strings.ToLower(text)
	var matches []tierMatch
	appendTier := func(terms []string, points int) {
		for _, term := range terms {
			if termPresent(term, tokens, lowerText) {
				matches = append(matches, tierMatch{term: term, points: points})
			}
		}
	}
	appendTier(rules.Critical, rules.Weights.CriticalKeyword)
	appendTier(rules.High, rules.Weights.HighKeyword)
	appendTier(rules.Moderate, rules.Weights.ModerateKeyword)
	return matches
}

func termPresent(term string, tokens map[string]struct{}, lowerText string) bool {
	term = strings.ToLower(term)
	if strings.ContainsAny(term, " -") {
		return strings.Contains(lowerText, term)
	}
	_, ok := tokens[term]
	return ok
}

// classify scores every category as matches x weight and returns the best.
// Ties break towards the higher weight, then the lexically smaller name.
// No matches at all yields Unknown.
func classify(rules *Rules, tokens map[string]struct{}, text string) (string, float64) {
	lowerText := strings.ToLower(text)

	type categoryScore struct {
		name   string
		weight float64
		score  float64
	}
	var scores []categoryScore
	for _, cat := range rules.Categories {
		matches := 0
		for _, kw := range cat.Keywords {
			if termPresent(kw, tokens, lowerText) {
				matches++
			}
		}
		if matches > 0 {
			scores = append(scores, categoryScore{
				name:   cat.Name,
				weight: cat.Weight,
				score:  float64(matches) * cat.Weight,
			})
		}
	}
	if len(scores) == 0 {
		return CategoryUnknown, 0
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		if scores[i].weight != scores[j].weight {
			return scores[i].weight > scores[j].weight
		}
		return scores[i].name < scores[j].name
	})
	return scores[0].name, scores[0].weight
}

// computeConfidence sums capped per-signal contributions. A page with no
// signals at all gets a flat 0.25.
func computeConfidence(keywordMatches, cryptoCount, emailCount int, malware bool, category string, categoryWeight float64) float64 {
	if keywordMatches == 0 && cryptoCount == 0 && emailCount == 0 && !malware && category == CategoryUnknown {
		return 0.25
	}

	confidence := capped(0.12*float64(keywordMatches), 0.40) +
		capped(0.15*float64(cryptoCount), 0.35) +
		capped(0.10*float64(emailCount), 0.30)
	if malware {
		confidence += 0.20
	}
	if category != CategoryUnknown {
		confidence += capped(0.05*categoryWeight, 0.25)
	}

	if confidence > 0.99 {
		confidence = 0.99
	}
	return confidence
}

func capped(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}

func tokenSet(text string) map[string]struct{} {
	tokens := tokenRe.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

var tokenRe = regexp.MustCompile(`\b[a-z0-9]{3,}\b`)
