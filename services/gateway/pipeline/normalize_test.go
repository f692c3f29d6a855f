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

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
		{
			name:  "crlf and bare cr become lf",
			input: "line one\r\nline two\rline three",
			want:  "line one\nline two\nline three",
		},
		{
			name:  "trailing spaces stripped per line",
			input: "line one   \nline two\t\nline three",
			want:  "line one\nline two\nline three",
		},
		{
			name:  "blank runs collapse to one blank line",
			input: "para one\n\n\n\n\npara two",
			want:  "para one\n\npara two",
		},
		{
			name:  "interior space runs collapse",
			input: "too  many     spaces\there",
			want:  "too many spaces\there",
		},
		{
			name:  "leading indentation preserved",
			input: "example:\n    indented code\n        deeper",
			want:  "example:\n    indented code\n        deeper",
		},
		{
			name:  "surrounding whitespace trimmed",
			input: "\n\n  answer text  \n\n",
			want:  "answer text",
		},
		{
			name:  "only whitespace",
			input: " \t\r\n ",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Normalize(tt.input)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"plain text",
		"line one   \r\nline two\r\n\r\n\r\nline  three",
		"  leading and trailing  ",
		"code:\n    x := 1\n    y  :=  2\n",
	}

	for _, input := range inputs {
		once := Normalize(input)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q:\n once:  %q\n twice: %q",
				input, once, twice)
		}
	}
}
