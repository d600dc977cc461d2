package evidence

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/incidentops/iats/pkg/hashing"
)

const (
	signatureLength = 180
	topSignatures   = 8
	maxSamples      = 3
	maxStackFrames  = 5
)

// Signature is one ranked log pattern.
type Signature struct {
	SignatureID string   `json:"signature_id"`
	Count       int      `json:"count"`
	Pattern     string   `json:"pattern"`
	Samples     []string `json:"samples"`
}

// RankPatterns normalizes each line to its first 180 characters, counts
// duplicates, and keeps the top 8 by count. Ties break lexicographically so
// the ranking is deterministic.
func RankPatterns(lines []string) ([]Signature, error) {
	counts := map[string]int{}
	samples := map[string][]string{}
	for _, line := range lines {
		normalized := line
		if len(normalized) > signatureLength {
			normalized = normalized[:signatureLength]
		}
		counts[normalized]++
		if len(samples[normalized]) < maxSamples {
			samples[normalized] = append(samples[normalized], line)
		}
	}

	patterns := make([]string, 0, len(counts))
	for p := range counts {
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if counts[patterns[i]] != counts[patterns[j]] {
			return counts[patterns[i]] > counts[patterns[j]]
		}
		return patterns[i] < patterns[j]
	})
	if len(patterns) > topSignatures {
		patterns = patterns[:topSignatures]
	}

	out := make([]Signature, 0, len(patterns))
	for _, p := range patterns {
		id, err := hashing.StableHash(p)
		if err != nil {
			return nil, err
		}
		out = append(out, Signature{
			SignatureID: id[:12],
			Count:       counts[p],
			Pattern:     p,
			Samples:     samples[p],
		})
	}
	return out, nil
}

// StackFrame is one parsed traceback frame.
type StackFrame struct {
	Path string
	Line int
}

var stackFrameRe = regexp.MustCompile(`File "([^"]+)", line (\d+)`)

// ExtractStackFrames scans log lines for traceback frames, keeping the first
// 5 distinct (path, line) pairs in order of appearance.
func ExtractStackFrames(lines []string) []StackFrame {
	seen := map[string]bool{}
	var frames []StackFrame
	for _, line := range lines {
		for _, m := range stackFrameRe.FindAllStringSubmatch(line, -1) {
			lineNo, err := strconv.Atoi(m[2])
			if err != nil {
				continue
			}
			key := m[1] + ":" + m[2]
			if seen[key] {
				continue
			}
			seen[key] = true
			frames = append(frames, StackFrame{Path: m[1], Line: lineNo})
			if len(frames) >= maxStackFrames {
				return frames
			}
		}
	}
	return frames
}
