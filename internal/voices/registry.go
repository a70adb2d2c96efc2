// Package voices holds the catalog of speaker identifiers exposed by the
// loaded model. The registry is built once at model load and is read-only
// afterwards, so it is safe to share across request handlers.
package voices

import "strings"

type Registry struct {
	ids     []string
	members map[string]int
}

// NewRegistry builds a registry preserving catalog order. Duplicate ids
// keep their first position.
func NewRegistry(ids []string) *Registry {
	r := &Registry{
		ids:     make([]string, 0, len(ids)),
		members: make(map[string]int, len(ids)),
	}
	for _, id := range ids {
		if _, ok := r.members[id]; ok {
			continue
		}
		r.members[id] = len(r.ids)
		r.ids = append(r.ids, id)
	}
	return r
}

func (r *Registry) Contains(id string) bool {
	_, ok := r.members[id]
	return ok
}

// Index returns the position of a speaker in catalog order. The engine
// addresses speakers by index.
func (r *Registry) Index(id string) (int, bool) {
	idx, ok := r.members[id]
	return idx, ok
}

func (r *Registry) Len() int { return len(r.ids) }

// IDs returns a copy of the catalog in order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// ByLanguage groups speakers by the substring before the first "-", or the
// whole identifier when there is no separator: EN-US and EN-AU fall under
// EN, a bare JP under JP.
func (r *Registry) ByLanguage() map[string][]string {
	groups := make(map[string][]string)
	for _, id := range r.ids {
		lang := id
		if i := strings.Index(id, "-"); i >= 0 {
			lang = id[:i]
		}
		groups[lang] = append(groups[lang], id)
	}
	return groups
}
