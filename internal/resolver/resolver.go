// Package resolver maps parsed names onto canonical directory entries.
// Resolve is pure: it reads only the directory snapshot it is given.
package resolver

import (
	"sort"
	"strings"
	"unicode"

	"attendance-bot/internal/models"

	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases, strips diacritics and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(strings.ToLower(s)) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

type entry struct {
	canonical string
	full      string
	first     string
	last      string
	active    bool
}

type Directory struct {
	entries []entry
}

func NewDirectory(employees []models.DirectoryEmployee) *Directory {
	d := &Directory{entries: make([]entry, 0, len(employees))}
	for _, e := range employees {
		full := Normalize(e.FullName())
		if full == "" {
			continue
		}
		tokens := strings.Fields(full)
		d.entries = append(d.entries, entry{
			canonical: strings.Join(strings.Fields(e.FullName()), " "),
			full:      full,
			first:     tokens[0],
			last:      tokens[len(tokens)-1],
			active:    strings.EqualFold(e.Status, models.EmployeeActive),
		})
	}
	return d
}

// Resolve returns a copy of events with ResolvedName set where exactly one
// directory entry matches. Unresolved events are flagged Ambiguous, with
// any tied candidates listed for the confirming user.
func Resolve(events []models.ParsedAttendanceEvent, dir *Directory) []models.ParsedAttendanceEvent {
	out := make([]models.ParsedAttendanceEvent, len(events))
	for i, ev := range events {
		name, candidates := dir.match(ev.RawName)
		ev.ResolvedName = nil
		ev.Candidates = nil
		ev.Ambiguous = false
		if name != "" {
			resolved := name
			ev.ResolvedName = &resolved
		} else {
			ev.Ambiguous = true
			ev.Candidates = candidates
		}
		out[i] = ev
	}
	return out
}

func (d *Directory) match(raw string) (string, []string) {
	if d == nil {
		return "", nil
	}

	cand := Normalize(raw)
	if cand == "" {
		return "", nil
	}
	tokens := strings.Fields(cand)
	first, last := tokens[0], tokens[len(tokens)-1]

	tiers := []func(e entry) bool{
		func(e entry) bool { return e.full == cand && e.active },
		func(e entry) bool { return e.full == cand },
		func(e entry) bool { return len(tokens) > 1 && e.active && e.first == first && e.last == last },
		func(e entry) bool { return len(tokens) == 1 && e.active && e.first == first },
		func(e entry) bool { return len(tokens) == 1 && e.active && e.last == first },
	}

	for _, pred := range tiers {
		hits := d.collect(pred)
		switch len(hits) {
		case 0:
			continue
		case 1:
			return hits[0], nil
		default:
			return "", hits
		}
	}

	return "", nil
}

func (d *Directory) collect(pred func(e entry) bool) []string {
	seen := make(map[string]struct{})
	var hits []string
	for _, e := range d.entries {
		if !pred(e) {
			continue
		}
		if _, ok := seen[e.full]; ok {
			continue
		}
		seen[e.full] = struct{}{}
		hits = append(hits, e.canonical)
	}
	sort.Strings(hits)
	return hits
}
