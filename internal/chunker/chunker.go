// Package chunker turns raw ASR segments with word-level timestamps into
// length/duration-bounded, sentence-aligned, semantically cohesive chunks.
//
// The pipeline: force-split any raw segment that already exceeds the
// bounds, flatten every segment's words into one timeline, split the full
// transcript into sentences, embed each sentence with the chunk-embedding
// model, and greedily group adjacent sentences by cosine similarity subject
// to the length/duration bounds. Chunk boundaries are read back off the
// word timeline rather than interpolated, so timestamps stay accurate
// across merges.
package chunker

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Word is a single ASR word with its timestamp span.
type Word struct {
	Text  string
	Start float64
	End   float64
}

// RawSegment is one ASR segment as produced by the transcriber: a
// contiguous span of text with an optional ordered word list. Never
// mutated once produced.
type RawSegment struct {
	SegmentID string
	StartSec  float64
	EndSec    float64
	Text      string
	Words     []Word // nil if word-level timestamps are unavailable
}

// Chunk is one emitted, bounded, sentence-terminated span of text.
type Chunk struct {
	ChunkID  string
	StartSec float64
	EndSec   float64
	Text     string
}

// Config holds the length/duration bounds and similarity threshold that
// drive grouping. Recommended defaults: MinChars=80, MaxChars=350,
// MinSeconds=5, MaxSeconds=20, Threshold=0.55.
type Config struct {
	MinChars   int
	MaxChars   int
	MinSeconds float64
	MaxSeconds float64
	Threshold  float64
}

// Embedder produces normalized sentence embeddings for chunk grouping.
// Implementations wrap an external embedding capability (see internal/embedding).
type Embedder interface {
	Encode(texts []string) ([][]float64, error)
}

var abbreviations = []string{
	"e.g.", "i.e.", "etc.", "cf.", "vs.", "approx.", "No.", "fig.",
}

const abbrevPlaceholderPrefix = "\x00ABBR%d\x00"

// splitSentences breaks text into sentences, protecting common abbreviations
// from being mistaken for sentence boundaries. Sentences shorter than 10
// characters are glued onto a neighboring sentence rather than emitted
// standalone.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	protected := text
	placeholders := make([]string, len(abbreviations))
	for i, ab := range abbreviations {
		ph := fmt.Sprintf(abbrevPlaceholderPrefix, i)
		placeholders[i] = ph
		protected = strings.ReplaceAll(protected, ab, ph)
	}

	boundary := regexp.MustCompile(`([.!?])\s+([A-ZА-Я])`)
	protected = boundary.ReplaceAllString(protected, "$1\x01$2")
	parts := strings.Split(protected, "\x01")

	var sentences []string
	for _, p := range parts {
		restored := p
		for i, ph := range placeholders {
			restored = strings.ReplaceAll(restored, ph, abbreviations[i])
		}
		restored = strings.TrimSpace(restored)
		if restored == "" {
			continue
		}
		if !endsWithTerminator(restored) {
			restored += "."
		}
		sentences = append(sentences, restored)
	}
	if len(sentences) == 0 {
		return []string{text}
	}

	return glueShortSentences(sentences, 10)
}

func endsWithTerminator(s string) bool {
	if s == "" {
		return false
	}
	last := s[len(s)-1]
	return last == '.' || last == '!' || last == '?'
}

// glueShortSentences merges any sentence shorter than minLen into the
// following sentence (or the previous one if it's last), since a
// standalone fragment under minLen chars rarely carries useful similarity
// signal on its own.
func glueShortSentences(sentences []string, minLen int) []string {
	if len(sentences) <= 1 {
		return sentences
	}
	var result []string
	pending := ""
	for _, s := range sentences {
		combined := s
		if pending != "" {
			combined = strings.TrimRight(pending, ".!?") + " " + s
		}
		if len(combined) < minLen {
			pending = combined
			continue
		}
		result = append(result, combined)
		pending = ""
	}
	if pending != "" {
		if len(result) > 0 {
			result[len(result)-1] = strings.TrimRight(result[len(result)-1], ".!?") + " " + pending
			if !endsWithTerminator(result[len(result)-1]) {
				result[len(result)-1] += "."
			}
		} else {
			result = append(result, pending)
		}
	}
	return result
}

// forceSplitLargeSegment splits a raw segment that already exceeds the
// configured bounds into per-sentence sub-segments before chunking begins,
// so a single malformed ASR segment can't poison the whole pipeline.
func forceSplitLargeSegment(seg RawSegment, cfg Config) []RawSegment {
	sentences := splitSentences(seg.Text)
	if len(sentences) <= 1 {
		return []RawSegment{seg}
	}

	duration := seg.EndSec - seg.StartSec
	totalChars := 0
	for _, s := range sentences {
		totalChars += len(s)
	}

	var out []RawSegment
	cursor := seg.StartSec
	fullText := joinWords(seg.Words)

	for i, sent := range sentences {
		var sentStart, sentEnd float64
		var sentWords []Word

		if len(seg.Words) > 0 {
			start, end, words, ok := locateInWords(sent, fullText, seg.Words)
			if ok {
				sentStart, sentEnd, sentWords = start, end, words
			}
		}
		if sentWords == nil {
			sentChars := len(sent)
			sentDuration := duration / float64(len(sentences))
			if totalChars > 0 {
				sentDuration = (float64(sentChars) / float64(totalChars)) * duration
			}
			sentStart = cursor
			sentEnd = cursor + sentDuration
		}
		if i == len(sentences)-1 {
			sentEnd = seg.EndSec
		}

		out = append(out, RawSegment{
			SegmentID: fmt.Sprintf("%s-%d", seg.SegmentID, i),
			StartSec:  sentStart,
			EndSec:    sentEnd,
			Text:      sent,
			Words:     sentWords,
		})
		cursor = sentEnd
	}
	return out
}

func joinWords(words []Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

// locateInWords finds sent as a substring of fullText (built by joining
// words with single spaces) and returns the timestamp span of the words it
// covers.
func locateInWords(sent, fullText string, words []Word) (start, end float64, matched []Word, ok bool) {
	idx := strings.Index(fullText, strings.TrimSpace(strings.TrimRight(sent, ".!?")))
	if idx == -1 {
		return 0, 0, nil, false
	}
	wordsBefore := len(strings.Fields(fullText[:idx]))
	sentWordCount := len(strings.Fields(sent))

	for j := wordsBefore; j < wordsBefore+sentWordCount && j < len(words); j++ {
		if matched == nil {
			start = words[j].Start
		}
		end = words[j].End
		matched = append(matched, words[j])
	}
	if matched == nil {
		return 0, 0, nil, false
	}
	return start, end, matched, true
}

// wordSpan maps a char range of the concatenated full text back to a word's
// timestamp span.
type wordSpan struct {
	startChar, endChar int
	startSec, endSec   float64
}

// SemanticChunk produces bounded, sentence-aligned, semantically cohesive
// chunks from a video's raw ASR segments, ordered by start time. When
// embedder is nil or fails to embed the sentences, it falls back to the
// same raw-segment grouping used for segments with no word timestamps.
func SemanticChunk(videoID string, segments []RawSegment, embedder Embedder, cfg Config) ([]Chunk, error) {
	if len(segments) == 0 {
		return nil, nil
	}

	processed := make([]RawSegment, 0, len(segments))
	for _, seg := range segments {
		duration := seg.EndSec - seg.StartSec
		if len(seg.Text) > cfg.MaxChars || duration > cfg.MaxSeconds {
			processed = append(processed, forceSplitLargeSegment(seg, cfg)...)
		} else {
			processed = append(processed, seg)
		}
	}

	segs := make([]RawSegment, len(processed))
	copy(segs, processed)
	sortSegmentsByStart(segs)

	var allWords []Word
	for _, s := range segs {
		allWords = append(allWords, s.Words...)
	}
	if len(allWords) == 0 {
		return fallbackChunk(videoID, segs, cfg)
	}

	fullText, spans := buildWordMap(allWords)

	sentences := splitSentences(fullText)
	if len(sentences) == 0 {
		return fallbackChunk(videoID, segs, cfg)
	}

	sentObjs, err := mapSentencesToTime(sentences, fullText, spans)
	if err != nil || len(sentObjs) == 0 {
		return fallbackChunk(videoID, segs, cfg)
	}

	if len(sentObjs) <= 2 {
		var sb strings.Builder
		for i, s := range sentObjs {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(s.text)
		}
		return []Chunk{{
			ChunkID:  fmt.Sprintf("%s-sem-0", videoID),
			StartSec: sentObjs[0].start,
			EndSec:   sentObjs[len(sentObjs)-1].end,
			Text:     sb.String(),
		}}, nil
	}

	if embedder == nil {
		return fallbackChunk(videoID, segs, cfg)
	}
	sims, err := cosineSims(embedder, sentObjs)
	if err != nil {
		return fallbackChunk(videoID, segs, cfg)
	}

	chunks := groupSentences(sentObjs, sims, cfg)
	chunks = mergeShortChunks(chunks, cfg.MinChars, cfg)

	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		out[i] = Chunk{
			ChunkID:  fmt.Sprintf("%s-sem-%d", videoID, i),
			StartSec: c.StartSec,
			EndSec:   c.EndSec,
			Text:     c.Text,
		}
	}
	return out, nil
}

func sortSegmentsByStart(segs []RawSegment) {
	for i := 1; i < len(segs); i++ {
		j := i
		for j > 0 && segs[j-1].StartSec > segs[j].StartSec {
			segs[j-1], segs[j] = segs[j], segs[j-1]
			j--
		}
	}
}

func buildWordMap(words []Word) (string, []wordSpan) {
	var sb strings.Builder
	spans := make([]wordSpan, 0, len(words))
	cursor := 0
	for i, w := range words {
		if i > 0 {
			sb.WriteByte(' ')
			cursor++
		}
		start := cursor
		sb.WriteString(w.Text)
		cursor += len(w.Text)
		spans = append(spans, wordSpan{startChar: start, endChar: cursor, startSec: w.Start, endSec: w.End})
	}
	return sb.String(), spans
}

type sentenceObj struct {
	text  string
	start float64
	end   float64
}

func mapSentencesToTime(sentences []string, fullText string, spans []wordSpan) ([]sentenceObj, error) {
	var out []sentenceObj
	searchCur := 0
	for _, sent := range sentences {
		trimmed := strings.TrimSpace(sent)
		idx := strings.Index(fullText[searchCur:], trimmed)
		if idx == -1 {
			continue
		}
		idx += searchCur
		sc, ec := idx, idx+len(trimmed)
		searchCur = ec

		start := wordStartCovering(spans, sc)
		end := wordEndCovering(spans, ec-1)
		out = append(out, sentenceObj{text: sent, start: start, end: end})
	}
	return out, nil
}

func wordStartCovering(spans []wordSpan, charOffset int) float64 {
	for _, sp := range spans {
		if sp.startChar <= charOffset && charOffset < sp.endChar {
			return sp.startSec
		}
	}
	if len(spans) > 0 {
		return spans[0].startSec
	}
	return 0
}

func wordEndCovering(spans []wordSpan, charOffset int) float64 {
	for _, sp := range spans {
		if sp.startChar <= charOffset && charOffset < sp.endChar {
			return sp.endSec
		}
	}
	for i := len(spans) - 1; i >= 0; i-- {
		if spans[i].endChar <= charOffset+1 {
			return spans[i].endSec
		}
	}
	if len(spans) > 0 {
		return spans[len(spans)-1].endSec
	}
	return 0
}

func cosineSims(embedder Embedder, sents []sentenceObj) ([]float64, error) {
	texts := make([]string, len(sents))
	for i, s := range sents {
		texts[i] = s.text
	}
	embs, err := embedder.Encode(texts)
	if err != nil {
		return nil, err
	}
	sims := make([]float64, 0, len(embs)-1)
	for i := 0; i+1 < len(embs); i++ {
		sims = append(sims, cosine(embs[i], embs[i+1]))
	}
	return sims, nil
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom < 1e-9 {
		return 0
	}
	return dot / denom
}

type groupChunk struct {
	StartSec, EndSec float64
	Text             string
}

// groupSentences greedily groups adjacent sentences by similarity subject
// to the length/duration bounds. too_long is checked before too_short:
// violating that order produces unbounded chunks whenever a single
// sentence already exceeds the maximum.
func groupSentences(sents []sentenceObj, sims []float64, cfg Config) []groupChunk {
	var chunks []groupChunk

	group := []sentenceObj{sents[0]}
	glen := len(sents[0].text)
	gstart, gend := sents[0].start, sents[0].end

	flush := func() {
		txt := joinSentenceTexts(group)
		chunks = append(chunks, groupChunk{StartSec: gstart, EndSec: gend, Text: txt})
	}

	for i, sim := range sims {
		ns := sents[i+1]
		gduration := gend - gstart
		tooLong := glen >= cfg.MaxChars || gduration >= cfg.MaxSeconds
		tooShort := glen < cfg.MinChars || gduration < cfg.MinSeconds

		switch {
		case tooLong:
			flush()
			group = []sentenceObj{ns}
			glen = len(ns.text)
			gstart, gend = ns.start, ns.end
		case tooShort:
			group = append(group, ns)
			glen += len(ns.text) + 1
			gend = ns.end
		case sim < cfg.Threshold:
			flush()
			group = []sentenceObj{ns}
			glen = len(ns.text)
			gstart, gend = ns.start, ns.end
		default:
			group = append(group, ns)
			glen += len(ns.text) + 1
			gend = ns.end
		}
	}

	if len(group) > 0 {
		txt := joinSentenceTexts(group)
		finalDuration := gend - gstart
		switch {
		case glen > cfg.MaxChars || finalDuration > cfg.MaxSeconds:
			chunks = append(chunks, splitOversizedGroup(txt, gstart, gend)...)
		case glen >= cfg.MinChars && finalDuration >= cfg.MinSeconds:
			chunks = append(chunks, groupChunk{StartSec: gstart, EndSec: gend, Text: txt})
		case len(chunks) > 0:
			prev := chunks[len(chunks)-1]
			prev.Text = strings.TrimRight(prev.Text, ".!?") + " " + txt
			prev.EndSec = gend
			chunks[len(chunks)-1] = prev
		default:
			// The only chunk for this video: keep even if under-minimum.
			chunks = append(chunks, groupChunk{StartSec: gstart, EndSec: gend, Text: txt})
		}
	}

	return chunks
}

func joinSentenceTexts(group []sentenceObj) string {
	var sb strings.Builder
	for i, g := range group {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(g.text)
	}
	txt := sb.String()
	if !endsWithTerminator(txt) {
		txt += "."
	}
	return txt
}

// splitOversizedGroup splits a final group that overshot the maximum into
// its sentences, distributing duration proportionally to sentence length.
// It splits one level only: a single sentence over the maximum is kept whole.
func splitOversizedGroup(txt string, start, end float64) []groupChunk {
	sentences := splitSentences(txt)
	if len(sentences) <= 1 {
		return []groupChunk{{StartSec: start, EndSec: end, Text: txt}}
	}
	totalChars := 0
	for _, s := range sentences {
		totalChars += len(s)
	}
	duration := end - start
	cursor := start
	var out []groupChunk
	for _, sent := range sentences {
		sentDuration := duration / float64(len(sentences))
		if totalChars > 0 {
			sentDuration = (float64(len(sent)) / float64(totalChars)) * duration
		}
		sentEnd := cursor + sentDuration
		if sentEnd > end {
			sentEnd = end
		}
		out = append(out, groupChunk{StartSec: cursor, EndSec: sentEnd, Text: sent})
		cursor = sentEnd
	}
	return out
}

// mergeShortChunks is the post-pass that merges adjacent under-minimum
// chunks with their predecessor, subject to the maximum bound.
func mergeShortChunks(chunks []groupChunk, minChars int, cfg Config) []groupChunk {
	if len(chunks) <= 1 {
		return chunks
	}
	merged := []groupChunk{chunks[0]}
	for i := 1; i < len(chunks); i++ {
		prev := merged[len(merged)-1]
		cur := chunks[i]
		mergedLen := len(prev.Text) + len(cur.Text) + 1
		mergedDur := cur.EndSec - prev.StartSec

		if len(prev.Text) < minChars && mergedLen <= cfg.MaxChars && mergedDur <= cfg.MaxSeconds {
			prev.Text = strings.TrimRight(prev.Text, ".!?") + " " + cur.Text
			prev.EndSec = cur.EndSec
			merged[len(merged)-1] = prev
		} else {
			merged = append(merged, cur)
		}
	}

	if len(merged) > 1 {
		last := merged[len(merged)-1]
		if len(last.Text) < minChars {
			prev := merged[len(merged)-2]
			mergedLen := len(prev.Text) + len(last.Text) + 1
			mergedDur := last.EndSec - prev.StartSec
			if mergedLen <= cfg.MaxChars && mergedDur <= cfg.MaxSeconds {
				prev.Text = strings.TrimRight(prev.Text, ".!?") + " " + last.Text
				prev.EndSec = last.EndSec
				merged[len(merged)-2] = prev
				merged = merged[:len(merged)-1]
			}
		}
	}
	return merged
}

// fallbackChunk groups raw segments directly by length/duration bounds when
// no word timestamps are available anywhere in the video; timestamps come
// straight from raw segment boundaries.
func fallbackChunk(videoID string, segs []RawSegment, cfg Config) ([]Chunk, error) {
	if len(segs) == 0 {
		return nil, nil
	}

	var chunks []groupChunk
	var texts []string
	start, end := segs[0].StartSec, segs[0].EndSec
	clen := 0

	flush := func() {
		txt := strings.Join(texts, " ")
		if !endsWithTerminator(txt) {
			txt += "."
		}
		chunks = append(chunks, groupChunk{StartSec: start, EndSec: end, Text: txt})
	}

	for _, s := range segs {
		slen := len(s.Text)
		exceedsMax := clen+slen > cfg.MaxChars || (s.EndSec-start) >= cfg.MaxSeconds
		meetsMin := clen >= cfg.MinChars

		if exceedsMax && meetsMin {
			flush()
			texts, start, end, clen = []string{s.Text}, s.StartSec, s.EndSec, slen
		} else {
			texts = append(texts, s.Text)
			end = s.EndSec
			clen += slen + 1
		}
	}

	if len(texts) > 0 {
		txt := strings.Join(texts, " ")
		if !endsWithTerminator(txt) {
			txt += "."
		}
		finalDuration := end - start
		switch {
		case clen > cfg.MaxChars || finalDuration > cfg.MaxSeconds:
			chunks = append(chunks, splitOversizedGroup(txt, start, end)...)
		case clen >= cfg.MinChars:
			chunks = append(chunks, groupChunk{StartSec: start, EndSec: end, Text: txt})
		case len(chunks) > 0:
			prev := chunks[len(chunks)-1]
			prev.Text = strings.TrimRight(prev.Text, ".!?") + " " + txt
			prev.EndSec = end
			chunks[len(chunks)-1] = prev
		default:
			chunks = append(chunks, groupChunk{StartSec: start, EndSec: end, Text: txt})
		}
	}

	chunks = mergeShortChunks(chunks, cfg.MinChars, cfg)

	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		out[i] = Chunk{
			ChunkID:  fmt.Sprintf("%s-sem-%d", videoID, i),
			StartSec: c.StartSec,
			EndSec:   c.EndSec,
			Text:     c.Text,
		}
	}
	return out, nil
}
