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
	"errors"
	"fmt"
	"strings"

	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// PathSeparator joins category names in an entry path.
const PathSeparator = "/"

// Entry is an installable image with the category path that leads to it.
type Entry struct {
	Path              string `json:"path"`
	Name              string `json:"name" validate:"required"`
	Description       string `json:"description"`
	URL               string `json:"url" validate:"required,url,startswith=http"`
	ExtractSHA256     string `json:"extractSha256" validate:"omitempty,hexadecimal,len=64,lowercase"`
	ReleaseDate       string `json:"releaseDate"`
	ExtractSize       uint64 `json:"extractSize"`
	ImageDownloadSize uint64 `json:"imageDownloadSize"`
}

// Source converts the entry into an unresolved remote ImageSource. The
// compression kind is filled in by the resolver.
func (e *Entry) Source() models.ImageSource {
	return models.ImageSource{
		Name:             e.Name,
		Location:         e.URL,
		Origin:           models.OriginRemote,
		ExpectedSHA256:   e.ExtractSHA256,
		CompressedSize:   e.ImageDownloadSize,
		UncompressedSize: e.ExtractSize,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError lists the entry fields that failed validation.
type ValidationError struct {
	Entry  string
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("catalog entry %q: %s", e.Entry, strings.Join(e.Fields, "; "))
}

// Validate checks that e can be installed.
func Validate(e *Entry) error {
	err := validate.Struct(e)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validation failed: %w", err)
	}
	ve := &ValidationError{Entry: e.Path, Fields: make([]string, len(verrs))}
	for i, fe := range verrs {
		ve.Fields[i] = fieldMessage(fe)
	}
	return ve
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "url", "startswith":
		return fmt.Sprintf("%s %q is not an http(s) URL", field, fe.Value())
	case "hexadecimal", "len", "lowercase":
		return field + " must be 64 lower-case hex characters"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// Flatten walks the item tree depth first and returns every installable
// image. Entries that fail validation are logged and left out. Categories
// whose items live at a separate URL are not followed.
func (c *Catalog) Flatten() []Entry {
	var out []Entry
	var walk func(items []Item, prefix string)
	walk = func(items []Item, prefix string) {
		for i := range items {
			item := &items[i]
			path := item.Name
			if prefix != "" {
				path = prefix + PathSeparator + item.Name
			}

			if item.IsCategory() {
				if item.SubitemsURL != "" && len(item.Subitems) == 0 {
					log.Debug().Str("path", path).Str("url", item.SubitemsURL).
						Msg("skipping remote catalog category")
				}
				walk(item.Subitems, path)
				continue
			}

			e := Entry{
				Path:              path,
				Name:              item.Name,
				Description:       item.Description,
				URL:               item.URL,
				ExtractSHA256:     strings.ToLower(item.ExtractSHA256),
				ReleaseDate:       item.ReleaseDate,
				ExtractSize:       item.ExtractSize,
				ImageDownloadSize: item.ImageDownloadSize,
			}
			if err := Validate(&e); err != nil {
				log.Warn().Err(err).Msg("skipping invalid catalog entry")
				continue
			}
			out = append(out, e)
		}
	}
	walk(c.OSList, "")
	return out
}
