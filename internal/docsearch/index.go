package docsearch

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Field boosts applied when combining per-field similarities.
const (
	FilenameBoost = 2.0
	ContentBoost  = 1.0
)

// Hit is a scored document.
type Hit struct {
	Document
	Score float64
}

type sparse map[string]float64

// fieldIndex holds the idf table and normalised document vectors of one field.
type fieldIndex struct {
	boost   float64
	idf     map[string]float64
	vectors []sparse
}

// Index is an immutable TF-IDF index. It is safe for concurrent reads.
type Index struct {
	docs     []Document
	filename fieldIndex
	content  fieldIndex
}

// NewIndex fits the index over docs.
func NewIndex(docs []Document) *Index {
	idx := &Index{docs: docs}
	filenames := make([]string, len(docs))
	contents := make([]string, len(docs))
	for i, d := range docs {
		filenames[i] = d.Filename
		contents[i] = d.Content
	}
	idx.filename = fitField(filenames, FilenameBoost)
	idx.content = fitField(contents, ContentBoost)
	return idx
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int { return len(idx.docs) }

// Search returns up to limit documents with a positive score, best first.
func (idx *Index) Search(query string, limit int) []Hit {
	if limit <= 0 || len(idx.docs) == 0 {
		return nil
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	scores := make([]float64, len(idx.docs))
	for _, f := range []*fieldIndex{&idx.filename, &idx.content} {
		q := f.queryVector(terms)
		if len(q) == 0 {
			continue
		}
		qNorm := vectorNorm(q)
		for i, d := range f.vectors {
			scores[i] += f.boost * cosineSimilarity(q, d, qNorm)
		}
	}

	hits := make([]Hit, 0, len(idx.docs))
	for i, s := range scores {
		if s > 0 {
			hits = append(hits, Hit{Document: idx.docs[i], Score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Filename < hits[j].Filename
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func fitField(texts []string, boost float64) fieldIndex {
	n := float64(len(texts))
	df := map[string]int{}
	counts := make([]map[string]int, len(texts))
	for i, text := range texts {
		tf := termCounts(tokenize(text))
		counts[i] = tf
		for term := range tf {
			df[term]++
		}
	}

	// smoothed idf: ln((1+n)/(1+df)) + 1
	idf := make(map[string]float64, len(df))
	for term, d := range df {
		idf[term] = math.Log((1+n)/(1+float64(d))) + 1
	}

	vectors := make([]sparse, len(texts))
	for i, tf := range counts {
		v := make(sparse, len(tf))
		for term, c := range tf {
			v[term] = float64(c) * idf[term]
		}
		vectors[i] = v
	}
	return fieldIndex{boost: boost, idf: idf, vectors: vectors}
}

func (f *fieldIndex) queryVector(terms []string) sparse {
	v := sparse{}
	for term, c := range termCounts(terms) {
		if w, ok := f.idf[term]; ok {
			v[term] = float64(c) * w
		}
	}
	return v
}

func cosineSimilarity(a, b sparse, normA float64) float64 {
	if normA == 0 {
		return 0
	}
	normB := vectorNorm(b)
	if normB == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	dot := 0.0
	for term, w := range a {
		dot += w * b[term]
	}
	return dot / (normA * normB)
}

func vectorNorm(v sparse) float64 {
	sum := 0.0
	for _, val := range v {
		sum += val * val
	}
	return math.Sqrt(sum)
}

func termCounts(terms []string) map[string]int {
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	return tf
}

// tokenize lowercases text and splits it into runs of letters, digits and
// underscores of at least two characters, dropping English stop words.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

var stopWords = func() map[string]struct{} {
	words := strings.Fields(`
		a about above after again against all am an and any are as at be because been
		before being below between both but by can could did do does doing down during
		each few for from further had has have having he her here hers herself him himself
		his how i if in into is it its itself just me more most my myself no nor not now of
		off on once only or other our ours ourselves out over own same she should so some
		such than that the their theirs them themselves then there these they this those
		through to too under until up very was we were what when where which while who whom
		why will with would you your yours yourself yourselves also however may might must
		shall us via within without yet`)
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
