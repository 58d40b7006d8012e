package models

// TenantView is the read-through view of a tenant the admission engine
// consumes: a concurrency budget, a credit balance and a flag set. Rate-limit
// tier resolution happens upstream; a ConcurrencyLimit of zero means
// "reject all".
type TenantView struct {
	TenantID         string          `json:"tenant_id" yaml:"tenant_id"`
	ConcurrencyLimit int             `json:"concurrency_limit" yaml:"concurrency_limit"`
	CreditsAvailable int64           `json:"credits_available" yaml:"credits_available"`
	Flags            map[string]bool `json:"flags,omitempty" yaml:"flags,omitempty"`
}

func (t *TenantView) flag(name string) bool {
	if t == nil || t.Flags == nil {
		return false
	}
	return t.Flags[name]
}

// IsPreview reports whether this tenant runs with relaxed persistence rules.
func (t *TenantView) IsPreview() bool { return t.flag("preview") }

// IgnoreRobots reports a tenant-wide robots.txt bypass.
func (t *TenantView) IgnoreRobots() bool { return t.flag("ignore_robots") }

// ZeroDataRetention reports whether scrape payloads may be persisted at all.
func (t *TenantView) ZeroDataRetention() bool { return t.flag("zero_data_retention") }
