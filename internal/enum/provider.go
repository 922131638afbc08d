package enum

// Provider identifies the backend an account syncs against. Capability
// flags replace per-provider subclassing: callers branch on what the
// backend can do, not on what it is called.
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderGeneric Provider = "generic"
)

func (p Provider) String() string {
	return string(p)
}

// HasGmailExtensions reports whether the backend serves X-GM-MSGID and
// X-GM-THRID fetch items.
func (p Provider) HasGmailExtensions() bool {
	return p == ProviderGmail
}

// SupportsCondstore reports whether HIGHESTMODSEQ-based change queries
// are available.
func (p Provider) SupportsCondstore() bool {
	switch p {
	case ProviderGmail, ProviderGeneric:
		return true
	}
	return false
}

// HasLabels reports whether one message may appear in several folders
// under a label model.
func (p Provider) HasLabels() bool {
	return p == ProviderGmail
}

func GetProvider(s string) Provider {
	switch s {
	case "gmail":
		return ProviderGmail
	default:
		return ProviderGeneric
	}
}
