package field

// Dependencies collects the tags an expression requires before it can be
// evaluated. A scheduler orders expressions using these declarations.
type Dependencies struct {
	required TagList
	seen     map[Tag]bool
}

// Requires adds tags, ignoring repeats
func (d *Dependencies) Requires(tags ...Tag) {
	if d.seen == nil {
		d.seen = make(map[Tag]bool)
	}
	for _, t := range tags {
		if d.seen[t] {
			continue
		}
		d.seen[t] = true
		d.required = append(d.required, t)
	}
}

// Tags returns the required tags in declaration order
func (d *Dependencies) Tags() TagList {
	out := make(TagList, len(d.required))
	copy(out, d.required)
	return out
}

// Missing returns the required tags not yet present in s
func (d *Dependencies) Missing(s *Store) TagList {
	var missing TagList
	for _, t := range d.required {
		if !s.Has(t) {
			missing = append(missing, t)
		}
	}
	return missing
}
