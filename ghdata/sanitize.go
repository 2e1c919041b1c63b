/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package ghdata

import "regexp"

var (
	// htmlCommentRE matches HTML comments, including multi-line ones. User
	// content may carry hidden markers or hidden instructions; neither may
	// round-trip into prompts or back into posted comments.
	htmlCommentRE = regexp.MustCompile(`(?s)<!--.*?-->`)

	// mentionRE matches GitHub @-mentions (login rules: alphanumerics and
	// single hyphens, max 39 chars).
	mentionRE = regexp.MustCompile(`@([A-Za-z0-9](?:-?[A-Za-z0-9]){0,38})`)
)

// Sanitize cleans user-authored content before it enters a prompt or a
// formatted context block: hidden HTML comments are removed and @-mentions
// are neutralized so echoed content cannot ping users or re-trigger bots.
func Sanitize(s string) string {
	s = htmlCommentRE.ReplaceAllString(s, "")
	s = mentionRE.ReplaceAllString(s, "`@$1`")
	return s
}
