package tasks

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// defaultChunkTargetTokens is used when Deps.ChunkTargetTokens is unset.
const defaultChunkTargetTokens = 100

var sharedEncoding *tiktoken.Tiktoken

func encoding() (*tiktoken.Tiktoken, error) {
	if sharedEncoding != nil {
		return sharedEncoding, nil
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("tasks: load tokenizer: %w", err)
	}
	sharedEncoding = enc
	return enc, nil
}

// chunkByTokenBudget packs the units from splitUnits (paragraphs, or
// sentences of very long paragraphs) into chunks of about targetTokens
// tokens, never splitting a unit. It is naive: it never looks ahead to
// balance chunk sizes, it just fills each chunk until the next unit would
// overflow the budget. A unit that alone exceeds targetTokens becomes a
// chunk of its own, so such a chunk is larger than the budget; units are
// not split further at word boundaries.
func chunkByTokenBudget(text string, targetTokens int) ([]string, error) {
	if targetTokens <= 0 {
		targetTokens = defaultChunkTargetTokens
	}
	enc, err := encoding()
	if err != nil {
		return nil, err
	}

	units := splitUnits(text)
	var chunks []string
	var cur strings.Builder
	curTokens := 0

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		chunks = append(chunks, strings.TrimSpace(cur.String()))
		cur.Reset()
		curTokens = 0
	}

	for _, u := range units {
		n := len(enc.Encode(u, nil, nil))
		if curTokens > 0 && curTokens+n > targetTokens {
			flush()
		}
		cur.WriteString(u)
		curTokens += n
	}
	flush()
	return chunks, nil
}

// splitUnits breaks text into paragraph-sized units, falling back to
// sentences within any paragraph longer than 2000 bytes. The threshold is
// fixed and does not depend on the token budget.
func splitUnits(text string) []string {
	paras := strings.Split(text, "\n\n")
	var units []string
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if len(p) <= 2000 {
			units = append(units, p+"\n\n")
			continue
		}
		for _, sentence := range splitSentences(p) {
			units = append(units, sentence+" ")
		}
	}
	return units
}

func splitSentences(p string) []string {
	var out []string
	start := 0
	for i, r := range p {
		if r == '.' || r == '!' || r == '?' {
			out = append(out, strings.TrimSpace(p[start:i+1]))
			start = i + 1
		}
	}
	if start < len(p) {
		out = append(out, strings.TrimSpace(p[start:]))
	}
	return out
}
