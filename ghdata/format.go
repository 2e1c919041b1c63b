/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package ghdata

import (
	"fmt"
	"strings"
)

// Format renders fetched data as a markdown context block for the prompt.
func Format(d *Data, isPR bool) string {
	var sb strings.Builder

	kind := "Issue"
	if isPR {
		kind = "Pull request"
	}
	fmt.Fprintf(&sb, "## %s: %s\n\n", kind, d.Title)
	fmt.Fprintf(&sb, "Author: %s\nState: %s\n", d.Author, d.State)
	if isPR && d.HeadBranch != "" {
		fmt.Fprintf(&sb, "Branches: %s -> %s (head %s)\n", d.HeadBranch, d.BaseBranch, d.HeadSHA)
	}

	if body := strings.TrimSpace(d.Body); body != "" {
		fmt.Fprintf(&sb, "\n### Description\n\n%s\n", body)
	}

	if len(d.ChangedFiles) > 0 {
		sb.WriteString("\n### Changed files\n\n")
		for _, f := range d.ChangedFiles {
			fmt.Fprintf(&sb, "- %s (+%d/-%d)\n", f.Path, f.Additions, f.Deletions)
		}
	}

	if len(d.Comments) > 0 {
		sb.WriteString("\n### Conversation\n\n")
		for _, c := range d.Comments {
			fmt.Fprintf(&sb, "%s (%s):\n%s\n\n", c.Author, c.CreatedAt.Format("2006-01-02 15:04"), c.Body)
		}
	}

	if len(d.ReviewComments) > 0 {
		sb.WriteString("\n### Review comments\n\n")
		for _, rc := range d.ReviewComments {
			fmt.Fprintf(&sb, "%s on %s:\n%s\n\n", rc.Author, rc.Path, rc.Body)
		}
	}

	return sb.String()
}
