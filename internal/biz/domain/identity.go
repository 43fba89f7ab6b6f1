package domain

import (
	"net/mail"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// UnknownUserName is the sentinel display name used when no strategy resolves the user
const UnknownUserName = "unknown"

// IdentitySourceManual marks an identity typed in by the user
const IdentitySourceManual = "manual"

// Identity represents the active user as seen on the page
type Identity struct {
	Name       string   `json:"name"`
	Alternates []string `json:"alternates"` // lower-cased, sorted, unique
	Resolved   bool     `json:"resolved"`
	Source     string   `json:"source,omitempty"` // strategy that produced the name
}

// UnknownIdentity returns the sentinel identity
func UnknownIdentity() Identity {
	return Identity{Name: UnknownUserName, Alternates: []string{}}
}

// NewIdentity builds a resolved identity, deriving the alternates from name
func NewIdentity(name, source string) Identity {
	name = strings.TrimSpace(name)
	if name == "" {
		return UnknownIdentity()
	}
	return Identity{
		Name:       name,
		Alternates: ExpandAlternates(name),
		Resolved:   true,
		Source:     source,
	}
}

// IsUnknown reports whether this is the sentinel identity
func (i Identity) IsUnknown() bool {
	return !i.Resolved
}

// MatchForms returns every lower-cased form the user may be addressed by
func (i Identity) MatchForms() []string {
	if !i.Resolved {
		return nil
	}
	forms := append([]string{strings.ToLower(i.Name)}, i.Alternates...)
	return lo.Uniq(lo.Filter(forms, func(f string, _ int) bool { return f != "" }))
}

// Equal compares name and alternate set
func (i Identity) Equal(o Identity) bool {
	if i.Name != o.Name || i.Resolved != o.Resolved || len(i.Alternates) != len(o.Alternates) {
		return false
	}
	for k := range i.Alternates {
		if i.Alternates[k] != o.Alternates[k] {
			return false
		}
	}
	return true
}

// ExpandAlternates derives {first, last, initial+last} from a display name,
// plus the local part when the name is an email address. Output is sorted
// so the same name always yields the same slice.
func ExpandAlternates(name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return []string{}
	}

	var forms []string
	parts := strings.Fields(strings.ToLower(name))
	if len(parts) > 0 {
		forms = append(forms, parts[0])
	}
	if len(parts) > 1 {
		first, last := parts[0], parts[len(parts)-1]
		forms = append(forms, last)
		forms = append(forms, string([]rune(first)[0])+last)
	}

	if local, ok := emailLocalPart(name); ok {
		forms = append(forms, local)
	}

	forms = lo.Uniq(lo.Filter(forms, func(f string, _ int) bool { return f != "" }))
	sort.Strings(forms)
	return forms
}

func emailLocalPart(name string) (string, bool) {
	if strings.ContainsAny(name, " \t") || !strings.Contains(name, "@") {
		return "", false
	}
	addr, err := mail.ParseAddress(name)
	if err != nil {
		return "", false
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 {
		return "", false
	}
	return strings.ToLower(addr.Address[:at]), true
}
