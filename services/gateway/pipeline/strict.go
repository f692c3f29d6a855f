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
	_ "embed"
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed safety_patterns.yaml
var safetyPatternsYAML []byte

type strictPatternFile struct {
	Classifications []strictClassification `yaml:"classifications"`
}

type strictClassification struct {
	Name             string           `yaml:"name"`
	Description      string           `yaml:"description"`
	Priority         int              `yaml:"priority"`
	Patterns         []strictPattern  `yaml:"patterns"`
	compiledPatterns []*regexp.Regexp `yaml:"-"`
}

type strictPattern struct {
	Id          string `yaml:"id"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`
	Confidence  string `yaml:"confidence"`
}

// StrictChecker is the local pattern-matching guardrail backend.
//
// # Description
//
// Holds the compiled classifications loaded from the embedded policy file,
// sorted from highest to lowest priority. A message is blocked by the first
// classification whose patterns match. No network calls are made; strict
// mode never produces a SafetyTransportError.
type StrictChecker struct {
	classifications []strictClassification
}

// NewStrictChecker loads and compiles the embedded safety patterns.
//
// Returns an error if the embedded YAML is malformed or contains an invalid
// regex.
func NewStrictChecker() (*StrictChecker, error) {
	var file strictPatternFile
	if err := yaml.Unmarshal(safetyPatternsYAML, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded safety patterns: %w", err)
	}

	for i := range file.Classifications {
		for _, pattern := range file.Classifications[i].Patterns {
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return nil, fmt.Errorf("failed to compile safety regex %s: %w", pattern.Id, err)
			}
			file.Classifications[i].compiledPatterns = append(
				file.Classifications[i].compiledPatterns, re)
		}
	}

	sort.Slice(file.Classifications, func(i, j int) bool {
		return file.Classifications[i].Priority > file.Classifications[j].Priority
	})

	return &StrictChecker{classifications: file.Classifications}, nil
}

// Classify returns the name of the first matching classification, or ""
// if the message matches nothing.
func (s *StrictChecker) Classify(message string) string {
	data := []byte(message)
	for _, classification := range s.classifications {
		for _, re := range classification.compiledPatterns {
			if re.Match(data) {
				return classification.Name
			}
		}
	}
	return ""
}
