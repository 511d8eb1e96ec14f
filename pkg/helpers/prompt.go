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

package helpers

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// YesNoPrompt asks label on out until in yields y/yes, n/no or an empty
// line, which selects def. EOF also selects def.
func YesNoPrompt(in io.Reader, out io.Writer, label string, def bool) bool {
	choices := "Y/n"
	if !def {
		choices = "y/N"
	}

	r := bufio.NewReader(in)

	for {
		_, _ = fmt.Fprintf(out, "%s [%s] ", label, choices)
		s, err := r.ReadString('\n')
		s = strings.ToLower(strings.TrimSpace(s))
		switch {
		case s == "y" || s == "yes":
			return true
		case s == "n" || s == "no":
			return false
		case s == "" || err != nil:
			return def
		}
	}
}
