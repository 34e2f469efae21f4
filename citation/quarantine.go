// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package citation

import (
	"regexp"
	"strings"
)

// RedactionMarker replaces lines flagged by the quarantine scan. The
// marker is fixed so downstream consumers can recognize redactions.
const RedactionMarker = "[REDACTED: potential prompt injection]"

// injectionPatterns match lines that read as instructions to the model
// rather than document content. Case-insensitive; heuristic by nature,
// tuned for the override phrasings that actually circulate.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|context)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+|any\s+)?(the\s+)?(previous|prior|above|earlier)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+|any\s+)?(previous|prior|your)\s+(instructions?|rules?|context)`),
	regexp.MustCompile(`(?i)^\s*(system|assistant|developer)\s*(prompt|message)?\s*:`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the|in)\b`),
	regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
	regexp.MustCompile(`(?i)override\s+(the\s+)?(system|safety|previous)`),
	regexp.MustCompile(`(?i)do\s+not\s+(follow|obey)\s+(the\s+)?(previous|prior|system|above)`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+prompt|instructions?|secrets?)`),
	regexp.MustCompile(`(?i)\bact\s+as\s+(if\s+you|a\s+jailbroken|dan\b)`),
}

// Quarantine redacts lines that look like prompt injection. The zero
// value is ready to use.
type Quarantine struct{}

// NewQuarantine creates a quarantine with the standard pattern set.
func NewQuarantine() *Quarantine {
	return &Quarantine{}
}

// Clean returns text with every suspect line replaced by RedactionMarker.
// Scanning is line-level: one bad line never suppresses the rest of a
// chunk. Clean text comes back unchanged.
func (q *Quarantine) Clean(text string) string {
	if text == "" {
		return text
	}

	lines := strings.Split(text, "\n")
	changed := false
	for i, line := range lines {
		if suspect(line) {
			lines[i] = RedactionMarker
			changed = true
		}
	}
	if !changed {
		return text
	}
	return strings.Join(lines, "\n")
}

// Redacted reports whether Clean would alter text.
func (q *Quarantine) Redacted(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if suspect(line) {
			return true
		}
	}
	return false
}

func suspect(line string) bool {
	for _, pattern := range injectionPatterns {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}
