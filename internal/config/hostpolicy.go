package config

import "strings"

// HostPolicy carries per-host fetch overrides. Zero values mean "use global".
type HostPolicy struct {
	PageGotoTimeoutMs        int  `yaml:"page_goto_timeout_ms"`
	PageNetworkIdleTimeoutMs int  `yaml:"page_network_idle_timeout_ms"`
	PerHostMinDelayMs        int  `yaml:"per_host_min_delay_ms"`
	GraphQLReplayEnabled     bool `yaml:"graphql_replay_enabled"`
	RetryBudget              int  `yaml:"retry_budget"`
	RetryBackoffMs           int  `yaml:"retry_backoff_ms"`
}

// HostPolicyTable maps normalized host tokens to policies. Lookup strips
// "www." and lowercases, then falls back to the registrable parent domain so a
// policy for "example.com" also covers "shop.example.com".
type HostPolicyTable map[string]HostPolicy

// NormalizeHostToken canonicalizes a host for table lookup.
func NormalizeHostToken(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimPrefix(host, "www.")
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

// Lookup returns the policy for a host, walking up parent domains.
func (t HostPolicyTable) Lookup(host string) (HostPolicy, bool) {
	if len(t) == 0 {
		return HostPolicy{}, false
	}
	token := NormalizeHostToken(host)
	for token != "" {
		if p, ok := t[token]; ok {
			return p, true
		}
		i := strings.IndexByte(token, '.')
		if i < 0 {
			break
		}
		token = token[i+1:]
	}
	return HostPolicy{}, false
}

// DelayMsFor returns the per-host pacing delay, preferring the host policy.
func (t HostPolicyTable) DelayMsFor(host string, globalMs int) int {
	if p, ok := t.Lookup(host); ok && p.PerHostMinDelayMs > 0 {
		return p.PerHostMinDelayMs
	}
	return globalMs
}
