package generic

import "strings"

// SkillSet holds skills with their original spelling, keyed by the
// case-folded name. All skill comparisons in the engine go through it.
type SkillSet struct {
	byKey map[string]string
	order []string // keys in insertion order
}

func skillKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NewSkillSet builds a set. Blank entries are dropped and the first
// spelling of a duplicate wins.
func NewSkillSet(skills ...string) SkillSet {
	set := SkillSet{byKey: make(map[string]string, len(skills))}
	for _, s := range skills {
		k := skillKey(s)
		if k == "" {
			continue
		}
		if _, ok := set.byKey[k]; ok {
			continue
		}
		set.byKey[k] = strings.TrimSpace(s)
		set.order = append(set.order, k)
	}
	return set
}

func (s SkillSet) Len() int { return len(s.order) }

// Has reports whether the set contains skill, ignoring case.
func (s SkillSet) Has(skill string) bool {
	_, ok := s.byKey[skillKey(skill)]
	return ok
}

// Names returns the original spellings in insertion order.
func (s SkillSet) Names() []string {
	names := make([]string, 0, len(s.order))
	for _, k := range s.order {
		names = append(names, s.byKey[k])
	}
	return names
}

// HasAnyLike reports whether any skill contains one of the queries as a
// case-insensitive substring. "react" matches "React Native".
func (s SkillSet) HasAnyLike(queries ...string) bool {
	for _, q := range queries {
		qk := skillKey(q)
		if qk == "" {
			continue
		}
		for _, k := range s.order {
			if strings.Contains(k, qk) {
				return true
			}
		}
	}
	return false
}

// Match splits required into the skills present in s and those missing.
// Both keep the spelling and order of required; duplicates in required
// are counted once.
func (s SkillSet) Match(required []string) (matching, missing []string) {
	matching = []string{}
	missing = []string{}
	for _, r := range NewSkillSet(required...).Names() {
		if s.Has(r) {
			matching = append(matching, r)
		} else {
			missing = append(missing, r)
		}
	}
	return matching, missing
}
