// Zaparoo Imager
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Imager.
//
// Zaparoo Imager is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Imager is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Imager.  If not, see <http://www.gnu.org/licenses/>.

package catalog

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/hbollon/go-edlib"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	minSuggestSimilarity = 0.8
	maxSuggestions       = 3
)

var (
	ErrEntryNotFound  = fmt.Errorf("%w: catalog entry not found", models.ErrSourceUnavailable)
	ErrAmbiguousEntry = fmt.Errorf("%w: catalog entry name is ambiguous", models.ErrSourceUnavailable)
)

// matchKey folds case, diacritics and surrounding space so "Raspberry Pi
// OS (64-bit)" and "raspberry pi os (64-bit) " compare equal.
func matchKey(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// Find returns the entry whose full path equals ref, or failing that the
// only entry whose name equals ref. Misses suggest close names.
func Find(entries []Entry, ref string) (*Entry, error) {
	key := matchKey(ref)

	for i := range entries {
		if matchKey(entries[i].Path) == key {
			return &entries[i], nil
		}
	}

	var byName []int
	for i := range entries {
		if matchKey(entries[i].Name) == key {
			byName = append(byName, i)
		}
	}
	switch len(byName) {
	case 1:
		return &entries[byName[0]], nil
	case 0:
	default:
		paths := make([]string, len(byName))
		for i, idx := range byName {
			paths[i] = entries[idx].Path
		}
		return nil, fmt.Errorf("%w: %q matches %s", ErrAmbiguousEntry, ref, strings.Join(paths, ", "))
	}

	if s := Suggest(entries, ref); len(s) > 0 {
		return nil, fmt.Errorf("%w: %q (did you mean %s?)", ErrEntryNotFound, ref, strings.Join(s, ", "))
	}
	return nil, fmt.Errorf("%w: %q", ErrEntryNotFound, ref)
}

// Suggest returns up to three entry paths whose name or path is close to
// ref, best first.
func Suggest(entries []Entry, ref string) []string {
	type scored struct {
		path  string
		score float32
	}
	key := matchKey(ref)
	if key == "" {
		return nil
	}

	var matches []scored
	for i := range entries {
		score := max(
			edlib.JaroWinklerSimilarity(key, matchKey(entries[i].Name)),
			edlib.JaroWinklerSimilarity(key, matchKey(entries[i].Path)),
		)
		if score >= minSuggestSimilarity {
			matches = append(matches, scored{path: entries[i].Path, score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	out := make([]string, 0, maxSuggestions)
	for _, m := range matches {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, m.path)
	}
	return out
}
