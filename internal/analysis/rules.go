package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Weights are the tunable scoring constants.
type Weights struct {
	CriticalKeyword    int `json:"criticalKeyword"`
	HighKeyword        int `json:"highKeyword"`
	ModerateKeyword    int `json:"moderateKeyword"`
	DualIndicatorBonus int `json:"dualIndicatorBonus"`
	ContactBonus       int `json:"contactBonus"`
	MalwareBonus       int `json:"malwareBonus"`
	PGPBonus           int `json:"pgpBonus"`
}

// CategoryRule scores one classification category.
type CategoryRule struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Weight   float64  `json:"weight"`
}

// Rules bundles the keyword tiers and category table.
type Rules struct {
	Critical   []string       `json:"critical"`
	High       []string       `json:"high"`
	Moderate   []string       `json:"moderate"`
	Categories []CategoryRule `json:"categories"`
	Weights    Weights        `json:"weights"`
}

// CategoryUnknown is the fallback when no category scores.
const CategoryUnknown = "Unknown"

// DefaultRules returns the built-in keyword tiers and category table.
func DefaultRules() *Rules {
	return &Rules{
		Critical: []string{
			"ransomware", "exploit", "carding", "cvv", "zero-day",
			"breach", "ddos", "botnet", "malware", "trojan", "keylogger",
		},
		High: []string{
			"market", "marketplace", "escrow", "fraud", "phishing",
			"hack", "drug", "drugs", "weapon", "weapons", "illegal",
			"stolen", "leak", "dump",
		},
		// The word "contact" is scored through the contact-info bonus,
		// not the moderate tier, so a page with an email address is not
		// counted twice.
		Moderate: []string{"service", "offer"},
		Categories: []CategoryRule{
			{
				Name: "Illegal Marketplace",
				Keywords: []string{
					"shop", "store", "buy", "sell", "vendor", "market",
					"product", "drugs", "weapon", "exploit", "stolen",
					"illegal", "contraband", "escrow", "carding", "cvv",
				},
				Weight: 5.0,
			},
			{
				Name: "Hacking/Exploitation",
				Keywords: []string{
					"hack", "exploit", "vulnerability", "malware",
					"ransomware", "ddos", "botnet", "zero-day", "payload",
					"breach", "intrusion", "worm", "trojan", "keylogger",
					"remote access",
				},
				Weight: 4.5,
			},
			{
				Name: "Data Leak",
				Keywords: []string{
					"leak", "leaked", "database", "dump", "credentials",
					"password", "exposed", "confidential", "classified",
					"documents", "records",
				},
				Weight: 4.0,
			},
			{
				Name: "Fraud",
				Keywords: []string{
					"fraud", "scam", "phishing", "forgery", "fake",
					"counterfeit", "ponzi", "clone", "impersonate", "spoof",
					"identity theft", "money laundering",
				},
				Weight: 3.0,
			},
			{
				Name: "Financial/Crypto",
				Keywords: []string{
					"bitcoin", "btc", "crypto", "wallet", "payment",
					"transaction", "ethereum", "monero", "zcash",
					"blockchain", "exchange", "mining",
				},
				Weight: 2.0,
			},
			{
				Name: "Adult Content",
				Keywords: []string{
					"adult", "explicit", "nsfw", "porn", "xxx", "escort",
				},
				Weight: 1.8,
			},
			{
				Name: "Communication/Forum",
				Keywords: []string{
					"forum", "chat", "message", "contact", "discuss",
					"community", "board", "thread", "post", "channel",
				},
				Weight: 1.2,
			},
			{
				Name: "Document/Info",
				Keywords: []string{
					"document", "guide", "manual", "tutorial", "research",
					"whitepaper", "archive", "library", "reference",
				},
				Weight: 1.0,
			},
		},
		Weights: Weights{
			CriticalKeyword:    15,
			HighKeyword:        8,
			ModerateKeyword:    3,
			DualIndicatorBonus: 40,
			ContactBonus:       3,
			MalwareBonus:       25,
			PGPBonus:           2,
		},
	}
}

// LoadRules reads a rules file, filling omitted sections from the defaults.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	rules := DefaultRules()
	if err := json.Unmarshal(data, rules); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rules, nil
}

// Validate rejects rule sets that cannot classify.
func (r *Rules) Validate() error {
	if len(r.Categories) == 0 {
		return fmt.Errorf("at least one category is required")
	}
	for _, c := range r.Categories {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("category with empty name")
		}
		if c.Weight <= 0 {
			return fmt.Errorf("category %s has non-positive weight", c.Name)
		}
	}
	return nil
}

// Dictionary returns the union of all tier and category keywords, used by
// the parser to filter token candidates.
func (r *Rules) Dictionary() map[string]struct{} {
	dict := make(map[string]struct{})
	add := func(words []string) {
		for _, w := range words {
			dict[strings.ToLower(w)] = struct{}{}
		}
	}
	add(r.Critical)
	add(r.High)
	add(r.Moderate)
	for _, c := range r.Categories {
		add(c.Keywords)
	}
	return dict
}
