// Package channel classifies acquisition metadata into traffic channels.
// The rule table is configuration data: the classifier walks it in order
// and falls back to referrer heuristics, so downstream aggregation always
// gets a channel and never an error.
package channel

import (
	"net/url"
	"strings"
)

// Channel is a classified traffic source.
type Channel string

// Channel names produced by the classifier.
const (
	PaidSearch    Channel = "paid_search"
	OrganicSearch Channel = "organic_search"
	PaidSocial    Channel = "paid_social"
	OrganicSocial Channel = "organic_social"
	Display       Channel = "display"
	Email         Channel = "email"
	Affiliate     Channel = "affiliate"
	Referral      Channel = "referral"
	Direct        Channel = "direct"
	Unknown       Channel = "unknown"
)

// Rule maps a utm_source/utm_medium combination to a channel. Empty
// fields are wildcards; the first matching rule wins.
type Rule struct {
	Source  string
	Medium  string
	Channel Channel
}

var paidMediums = []string{"cpc", "ppc", "sem", "paid"}

var socialSources = []string{
	"facebook", "instagram", "linkedin", "tiktok", "twitter", "x", "youtube", "pinterest", "reddit",
}

// DefaultRules returns the standard classification table. Paid-social
// combinations are listed before the generic paid-search rules so that
// "facebook / cpc" resolves to paid_social rather than paid_search.
func DefaultRules() []Rule {
	rules := make([]Rule, 0, 64)

	for _, src := range socialSources {
		for _, med := range paidMediums {
			rules = append(rules, Rule{Source: src, Medium: med, Channel: PaidSocial})
		}
		rules = append(rules, Rule{Source: src, Medium: "social", Channel: OrganicSocial})
	}

	rules = append(rules,
		Rule{Medium: "cpc", Channel: PaidSearch},
		Rule{Medium: "ppc", Channel: PaidSearch},
		Rule{Medium: "sem", Channel: PaidSearch},
		Rule{Medium: "paid_search", Channel: PaidSearch},
		Rule{Medium: "paid_social", Channel: PaidSocial},
		Rule{Medium: "paid", Channel: PaidSocial},
		Rule{Medium: "display", Channel: Display},
		Rule{Medium: "banner", Channel: Display},
		Rule{Medium: "retargeting", Channel: Display},
		Rule{Medium: "email", Channel: Email},
		Rule{Source: "newsletter", Channel: Email},
		Rule{Medium: "affiliate", Channel: Affiliate},
		Rule{Medium: "partner", Channel: Affiliate},
		Rule{Medium: "social", Channel: OrganicSocial},
		Rule{Medium: "organic", Channel: OrganicSearch},
		Rule{Medium: "referral", Channel: Referral},
	)

	// Source-only fallbacks for snippets that tag the source but not the
	// medium; these sit after the medium rules so "facebook / email"
	// still resolves through the email rule.
	for _, src := range socialSources {
		rules = append(rules, Rule{Source: src, Channel: OrganicSocial})
	}
	rules = append(rules,
		Rule{Source: "google", Channel: OrganicSearch},
		Rule{Source: "bing", Channel: OrganicSearch},
	)

	return rules
}

var searchDomains = []string{
	"google.", "bing.", "duckduckgo.", "yahoo.", "baidu.", "yandex.", "ecosia.",
}

var socialDomains = []string{
	"facebook.", "instagram.", "linkedin.", "tiktok.", "twitter.", "t.co", "x.com", "youtube.", "pinterest.", "reddit.",
}

// Classifier resolves utm/referrer combinations into channels.
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a classifier over the given rule table.
func NewClassifier(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the channel for the given acquisition metadata.
// It never fails: unmatched utm tags resolve to "unknown", bare referrers
// to referral/search/social by domain, and no signal at all to "direct".
func (c *Classifier) Classify(utmSource, utmMedium, referrer string) Channel {
	source := strings.ToLower(strings.TrimSpace(utmSource))
	medium := strings.ToLower(strings.TrimSpace(utmMedium))

	if source != "" || medium != "" {
		for _, r := range c.rules {
			if r.Source != "" && r.Source != source {
				continue
			}
			if r.Medium != "" && r.Medium != medium {
				continue
			}
			return r.Channel
		}
		return Unknown
	}

	host := referrerHost(referrer)
	if host == "" {
		return Direct
	}
	for _, d := range searchDomains {
		if strings.Contains(host, d) {
			return OrganicSearch
		}
	}
	for _, d := range socialDomains {
		if strings.Contains(host, d) {
			return OrganicSocial
		}
	}
	return Referral
}

// referrerHost extracts the lowercased host from a referrer value, which
// may be a full URL or a bare domain.
func referrerHost(referrer string) string {
	ref := strings.ToLower(strings.TrimSpace(referrer))
	if ref == "" {
		return ""
	}
	if strings.Contains(ref, "://") {
		if u, err := url.Parse(ref); err == nil && u.Host != "" {
			return u.Host
		}
	}
	// Bare domain, possibly with a path
	if idx := strings.IndexByte(ref, '/'); idx != -1 {
		ref = ref[:idx]
	}
	return ref
}
