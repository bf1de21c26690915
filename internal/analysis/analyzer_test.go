package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onionwatch/onionwatch/internal/models"
)

const marketplaceText = "Dark Market buy carding escrow contact: admin@shop.test BTC 1BoatSLRHtKNngkdXEeobR76b53LETtpyT"

func TestMarketplaceScenario(t *testing.T) {
	a := New(nil)
	res := a.Analyze(Input{Text: marketplaceText})

	require.Equal(t, []string{"admin@shop.test"}, res.Emails)
	require.Equal(t, []string{"1BoatSLRHtKNngkdXEeobR76b53LETtpyT"}, res.CryptoAddresses)

	// market(8) + carding(15) + escrow(8) + dual indicator(40) + contact(3)
	assert.Equal(t, 74, res.ThreatScore)
	assert.Equal(t, models.RiskHigh, res.RiskLevel)
	assert.Equal(t, "Illegal Marketplace", res.Category)
	assert.InDelta(t, 0.86, res.Confidence, 0.001)

	assert.Equal(t, 3, res.Indicators.KeywordMatches)
	assert.True(t, res.Indicators.CryptoDetected)
	assert.True(t, res.Indicators.EmailDetected)
	assert.False(t, res.Indicators.MalwareDetected)
}

func TestBitcoinRegexReturnsFullAddress(t *testing.T) {
	// A capturing alternation on the prefix would truncate matches to
	// "bc1" / "1" under find-all semantics.
	addrs := ExtractCryptoAddresses("pay to bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq now")
	if len(addrs) != 1 {
		t.Fatalf("addrs = %v", addrs)
	}
	if !strings.HasPrefix(addrs[0], "bc1q") || len(addrs[0]) < 28 {
		t.Fatalf("truncated match: %q", addrs[0])
	}
}

func TestCryptoExtractionByChain(t *testing.T) {
	eth := ExtractCryptoAddresses("wallet 0x52908400098527886E0F7030069857D2E4169EE7 ok")
	require.Len(t, eth, 1)

	xmr := ExtractCryptoAddresses("xmr 44AFFq5kSiGBoZ4NMDwYtN18obc8AemS33DBLWs3H7otXft3XjrpDtQGv7SqSsaBYBb98uNbr2VBBEt7f2wfn3RVGQBEP3A end")
	require.Len(t, xmr, 1)

	none := ExtractCryptoAddresses("no addresses here, just 0x123 and 1Short")
	assert.Empty(t, none)
}

func TestEmailDeduplicationIsCaseInsensitive(t *testing.T) {
	emails := ExtractEmails("Admin@Shop.Test admin@shop.test ADMIN@SHOP.TEST other@x.example")
	assert.Equal(t, []string{"admin@shop.test", "other@x.example"}, emails)
}

func TestKeywordCountedOncePerTerm(t *testing.T) {
	a := New(nil)
	res := a.Analyze(Input{Text: "carding carding carding"})
	// One critical keyword only.
	assert.Equal(t, 15, res.ThreatScore)
	assert.Equal(t, 1, res.Indicators.KeywordMatches)
}

func TestMalwareAndPGPBonuses(t *testing.T) {
	a := New(nil)

	base := a.Analyze(Input{Text: "plain page with nothing"})
	withMalware := a.Analyze(Input{Text: "plain page with nothing", MalwareDetected: true})
	assert.Equal(t, base.ThreatScore+25, withMalware.ThreatScore)
	assert.True(t, withMalware.Indicators.MalwareDetected)

	withPGP := a.Analyze(Input{Text: "plain page with nothing", PGPDetected: true})
	assert.Equal(t, base.ThreatScore+2, withPGP.ThreatScore)
}

func TestScoreClampedAt100(t *testing.T) {
	a := New(nil)
	text := "ransomware exploit carding cvv breach ddos botnet malware trojan keylogger " +
		"market escrow fraud phishing hack drugs weapon illegal stolen leak dump " +
		"contact admin@x.test 1BoatSLRHtKNngkdXEeobR76b53LETtpyT"
	res := a.Analyze(Input{Text: text, MalwareDetected: true})
	assert.Equal(t, 100, res.ThreatScore)
	assert.Equal(t, models.RiskHigh, res.RiskLevel)
}

func TestUnknownCategoryAndFloorConfidence(t *testing.T) {
	a := New(nil)
	res := a.Analyze(Input{Text: "lorem ipsum dolor sit amet"})
	assert.Equal(t, CategoryUnknown, res.Category)
	assert.InDelta(t, 0.25, res.Confidence, 0.001)
	assert.Equal(t, 0, res.ThreatScore)
	assert.Equal(t, models.RiskLow, res.RiskLevel)
}

func TestClassifierIsDeterministic(t *testing.T) {
	a := New(nil)
	first := a.Analyze(Input{Text: marketplaceText})
	for i := 0; i < 10; i++ {
		again := a.Analyze(Input{Text: marketplaceText})
		require.Equal(t, first.Category, again.Category)
		require.Equal(t, first.Confidence, again.Confidence)
		require.Equal(t, first.ThreatScore, again.ThreatScore)
		require.Equal(t, first.ContentHash, again.ContentHash)
	}
}

func TestContentHashStability(t *testing.T) {
	h1 := HashContent("A")
	h2 := HashContent("A")
	h3 := HashContent("B")
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, h3)
	require.Len(t, h1, 64)
	assert.Empty(t, HashContent(""))
}

func TestRulesDictionaryContainsAllTiers(t *testing.T) {
	dict := DefaultRules().Dictionary()
	for _, w := range []string{"carding", "escrow", "market", "service", "bitcoin", "forum"} {
		if _, ok := dict[w]; !ok {
			t.Errorf("dictionary missing %q", w)
		}
	}
}
