// Package chunk delivers oversized text payloads to a turn-based host whose
// single-submission size limit is smaller than the payload, by splitting the
// payload into ordered parts and pacing them against the host's responses.
package chunk

import (
	"fmt"
	"strings"
)

// boundaryLookback is how far back from a window edge the splitter searches
// for a natural cut point before giving up and cutting at the raw limit.
const boundaryLookback = 500

// headerReserve is the per-chunk budget held back for the part header, so a
// wrapped chunk never exceeds the host's submission limit.
const headerReserve = 200

// Split cuts payload into pieces, preferring a line break, then a sentence
// boundary, inside the trailing lookback window of each piece. A payload that
// fits in one submission is returned whole; only once a split is actually
// needed does each piece shrink to limit-headerReserve, leaving room for the
// part header. Concatenating the pieces reproduces the payload exactly.
func Split(payload string, limit int) []string {
	if len(payload) <= limit {
		return []string{payload}
	}
	budget := limit - headerReserve
	if budget <= 0 {
		budget = limit
	}

	var parts []string
	rest := payload
	for len(rest) > budget {
		cut := cutPoint(rest, budget)
		parts = append(parts, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

// cutPoint picks where to cut a window of the given size: after the last line
// break in the trailing lookback region, else after the last ". ", else at
// the raw limit.
func cutPoint(s string, budget int) int {
	window := s[:budget]
	searchFrom := budget - boundaryLookback
	if searchFrom < 0 {
		searchFrom = 0
	}
	tail := window[searchFrom:]

	if idx := strings.LastIndexByte(tail, '\n'); idx >= 0 {
		return searchFrom + idx + 1
	}
	if idx := strings.LastIndex(tail, ". "); idx >= 0 {
		return searchFrom + idx + 2
	}
	return budget
}

// PartHeader builds the header prepended to each part of a multi-part
// submission, telling the receiving model to withhold analysis until the
// final part arrives. index is 1-based.
func PartHeader(index, total int) string {
	switch {
	case index == 1:
		return fmt.Sprintf("[Part %d/%d] The following message is split into %d parts because of a length limit. Do not analyze or answer yet; briefly acknowledge this part and wait for the rest.", index, total, total)
	case index < total:
		return fmt.Sprintf("[Part %d/%d] Continuation of the split message. Do not analyze or answer yet; briefly acknowledge this part and wait for the rest.", index, total)
	default:
		return fmt.Sprintf("[Part %d/%d] Final part of the split message. The message is now complete; respond to the whole of it.", index, total)
	}
}

// WrapParts prepends part headers. A single-part payload is returned
// unwrapped: it needs no protocol framing.
func WrapParts(parts []string) []string {
	if len(parts) <= 1 {
		return parts
	}
	wrapped := make([]string, len(parts))
	for i, p := range parts {
		wrapped[i] = PartHeader(i+1, len(parts)) + "\n\n" + p
	}
	return wrapped
}

// Join strips part headers and reassembles the original payload. Inverse of
// WrapParts(Split(...)).
func Join(chunks []string) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(StripHeader(c))
	}
	return b.String()
}

// StripHeader removes a part header from a chunk, if present. Only a real
// "[Part i/N]" prefix is stripped; payload text that merely starts with
// "[Part " stays intact.
func StripHeader(chunk string) string {
	if !hasPartHeader(chunk) {
		return chunk
	}
	sep := strings.Index(chunk, "\n\n")
	if sep < 0 {
		return chunk
	}
	return chunk[sep+2:]
}

// hasPartHeader reports whether s starts with a "[Part i/N]" header.
func hasPartHeader(s string) bool {
	rest, ok := strings.CutPrefix(s, "[Part ")
	if !ok {
		return false
	}
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(rest) || rest[i] != '/' {
		return false
	}
	rest = rest[i+1:]
	j := 0
	for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
		j++
	}
	return j > 0 && j < len(rest) && rest[j] == ']'
}
