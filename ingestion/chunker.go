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


package ingestion

import "strings"

// maxChunkChars bounds chunk size. Sentences pack into a chunk until the
// next one would cross the bound; a single oversized sentence becomes its
// own chunk rather than being split mid-sentence.
const maxChunkChars = 800

// chunkPage splits one page of text into sentence-packed chunks.
// Whitespace-only pages produce no chunks.
func chunkPage(page string) []string {
	sentences := splitSentences(page)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var b strings.Builder
	for _, sentence := range sentences {
		if b.Len() > 0 && b.Len()+1+len(sentence) > maxChunkChars {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sentence)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

// splitSentences splits text on sentence terminators, trimming whitespace.
// Deliberately naive about abbreviations; a split mid-abbreviation costs a
// little retrieval quality, not correctness.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder

	flush := func() {
		s := strings.TrimSpace(b.String())
		b.Reset()
		if s != "" {
			sentences = append(sentences, s)
		}
	}

	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			// terminator followed by space or end closes the sentence
			if i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				flush()
			}
		}
	}
	flush()
	return sentences
}
