// Zaparoo Drives
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Drives.
//
// Zaparoo Drives is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Drives is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Drives.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/localdisk"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/pathspec"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/usbid"
	"github.com/go-playground/validator/v10"
)

// ValidationError lists every config field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

type FieldError struct {
	Field   string
	Tag     string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, fe := range e.Fields {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("drivename", validateDriveName)
	_ = v.RegisterValidation("localclass", validateLocalClass)
	_ = v.RegisterValidation("vidpid", validateVidPid)
	return v
}

// Validate checks vals against the field rules.
func Validate(vals *Values) error {
	err := validate.Struct(vals)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("validation failed: %w", err)
	}
	ve := &ValidationError{Fields: make([]FieldError, len(errs))}
	for i, fe := range errs {
		ve.Fields[i] = FieldError{
			Field:   fe.Namespace(),
			Tag:     fe.Tag(),
			Message: formatFieldError(fe),
		}
	}
	return ve
}

func formatFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Values.")
	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "min":
		return field + " must be at least " + fe.Param()
	case "drivename":
		return field + " must be a single path segment without ':'"
	case "localclass":
		return field + " must be one of " + strings.Join(localClasses, ", ")
	case "vidpid":
		return field + " must look like vid_xxxx&pid_yyyy"
	default:
		return field + " failed " + fe.Tag() + " validation"
	}
}

func validateDriveName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	return pathspec.CheckSegment(name) == nil && !strings.Contains(name, ":")
}

var localClasses = []string{
	localdisk.ClassInternal,
	localdisk.ClassExternal,
	localdisk.ClassSDCard,
	localdisk.ClassCDROM,
}

func validateLocalClass(fl validator.FieldLevel) bool {
	class := fl.Field().String()
	for _, c := range localClasses {
		if class == c {
			return true
		}
	}
	return false
}

func validateVidPid(fl validator.FieldLevel) bool {
	s := strings.ToLower(fl.Field().String())
	found, ok := usbid.VidPidFromPath(s)
	return ok && found == s
}
