package crack

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// chunkID derives the stable chunk identity from the source path and the
// chunk's position in it. Same file, same position, same parameters give
// the same ID on every run, which is what lets unchanged chunks be
// recognized across passes.
func chunkID(relPath string, seq int) string {
	sum := sha256.Sum256([]byte(relPath + "\x00" + strconv.Itoa(seq)))
	return hex.EncodeToString(sum[:])[:16]
}

// splitText splits document text into chunks of at most maxChars,
// preferring blank-line boundaries. Paragraphs are packed greedily;
// a single paragraph longer than maxChars is hard-split.
func splitText(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}

	var (
		chunks []string
		buf    strings.Builder
	)
	flush := func() {
		if buf.Len() > 0 {
			chunks = append(chunks, buf.String())
			buf.Reset()
		}
	}

	for _, para := range splitParagraphs(text) {
		if len(para) > maxChars {
			flush()
			for _, piece := range hardSplit(para, maxChars) {
				chunks = append(chunks, piece)
			}
			continue
		}
		// +2 for the blank line separating paragraphs in a chunk.
		if buf.Len() > 0 && buf.Len()+2+len(para) > maxChars {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
	}
	flush()

	return chunks
}

// splitParagraphs breaks text on blank lines, dropping empty segments.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var paras []string
	for _, seg := range strings.Split(text, "\n\n") {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			paras = append(paras, seg)
		}
	}
	return paras
}

// hardSplit cuts an oversized paragraph into maxChars pieces, breaking at
// the last newline or space inside the window when one exists.
func hardSplit(para string, maxChars int) []string {
	var pieces []string
	for len(para) > maxChars {
		cut := maxChars
		window := para[:maxChars]
		if i := strings.LastIndexAny(window, "\n "); i > maxChars/2 {
			cut = i + 1
		}
		piece := strings.TrimSpace(para[:cut])
		if piece != "" {
			pieces = append(pieces, piece)
		}
		para = strings.TrimSpace(para[cut:])
	}
	if para != "" {
		pieces = append(pieces, para)
	}
	return pieces
}
