// SPDX-License-Identifier: AGPL-3.0-only

// Package persona assembles the static background the agent speaks from and
// composes the system instruction around it.
package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/jolks/persona-agent/internal/errors"
)

// Context is the persona background, loaded once and read-only afterwards.
type Context struct {
	Name    string
	Summary string
	Profile string
}

// Load reads the summary and profile documents for the named persona.
// An empty path skips that document. Profiles ending in .pdf are run
// through text extraction; anything else is read verbatim.
func Load(name, summaryPath, profilePath string) (*Context, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.InvalidInput("persona name is required")
	}

	pc := &Context{Name: name}

	if summaryPath != "" {
		raw, err := os.ReadFile(summaryPath)
		if err != nil {
			return nil, fmt.Errorf("read summary: %w", err)
		}
		pc.Summary = string(raw)
	}

	if profilePath != "" {
		text, err := readProfile(profilePath)
		if err != nil {
			return nil, fmt.Errorf("read profile: %w", err)
		}
		pc.Profile = text
	}

	return pc, nil
}

func readProfile(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return ExtractPDFText(path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ExtractPDFText returns the concatenated plain text of every page in the
// PDF at path. Pages without extractable text contribute nothing.
func ExtractPDFText(path string) (text string, err error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	// The pdf package panics on some malformed content streams.
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = fmt.Errorf("extract pdf %s: %v", path, rec)
		}
	}()

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d of %s: %w", i, path, err)
		}
		sb.WriteString(pageText)
	}
	return sb.String(), nil
}
