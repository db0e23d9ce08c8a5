// Package recipients decides who is emailed about a newly posted message.
//
// A message written by the administrator goes to the item's own contacts; a
// message written by anyone else goes to the administrator list.
package recipients

import "strings"

// Policy is the immutable recipient configuration loaded once at startup.
// It is safe for concurrent use.
type Policy struct {
	adminAddresses []string
	aliases        map[string]struct{}
}

// NewPolicy copies its inputs. adminAddresses is used verbatim (callers
// pre-split and trim it, see ParseAddresses). Aliases match case-sensitively.
func NewPolicy(adminAddresses, adminAliases []string) *Policy {
	aliases := make(map[string]struct{}, len(adminAliases))
	for _, a := range adminAliases {
		aliases[a] = struct{}{}
	}
	return &Policy{
		adminAddresses: append([]string(nil), adminAddresses...),
		aliases:        aliases,
	}
}

// IsAdminAuthor reports an exact alias match.
func (p *Policy) IsAdminAuthor(author string) bool {
	_, ok := p.aliases[author]
	return ok
}

// AdminAddresses returns a copy of the configured admin list.
func (p *Policy) AdminAddresses() []string {
	return append([]string(nil), p.adminAddresses...)
}

// Resolve returns the ordered recipient set for a message by author on an
// item whose raw contact field is itemContacts. An empty result is valid.
func (p *Policy) Resolve(author, itemContacts string) []string {
	if p.IsAdminAuthor(author) {
		return ParseAddresses(itemContacts)
	}
	return p.AdminAddresses()
}

// ParseAddresses splits a comma-separated contact field, trims each entry,
// drops empties and exact duplicates, and keeps first-seen order.
func ParseAddresses(raw string) []string {
	out := []string{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		addr := strings.TrimSpace(part)
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
