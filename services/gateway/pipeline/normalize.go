// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"regexp"
	"strings"
)

var (
	trailingSpaceRe = regexp.MustCompile(`[ \t]+\n`)
	blankRunRe      = regexp.MustCompile(`\n{3,}`)
	spaceRunRe      = regexp.MustCompile(`([^\s])[ \t]{2,}`)
)

// Normalize cleans up model output for presentation.
//
// # Description
//
// Applies the following transformations, in order:
//  1. Converts CRLF and bare CR line endings to LF.
//  2. Strips trailing whitespace from each line.
//  3. Collapses runs of three or more newlines to exactly two.
//  4. Collapses interior runs of spaces/tabs to a single space, leaving
//     line-leading indentation intact (so code blocks keep their shape).
//  5. Trims leading and trailing whitespace from the whole text.
//
// Normalize is idempotent: Normalize(Normalize(x)) == Normalize(x). The
// streaming accumulator depends on this to emit prefix deltas that
// concatenate to exactly the single-shot answer.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = trailingSpaceRe.ReplaceAllString(text, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	text = spaceRunRe.ReplaceAllString(text, "$1 ")
	return strings.TrimSpace(text)
}
