package fallback

import (
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Classification is the document-type result shared with the LLM path.
type Classification struct {
	DocType    string  `json:"doc_type"`
	Confidence float64 `json:"confidence"`
}

// Document types the classifier can emit.
const (
	DocResume      = "resume"
	DocCoverLetter = "cover_letter"
	DocJobPosting  = "job_posting"
	DocReference   = "reference_letter"
	DocOther       = "other"
)

var docKeywords = map[string][]string{
	DocResume:      {"work experience", "education", "skills", "certifications", "employment history", "professional summary", "references available"},
	DocCoverLetter: {"dear hiring", "i am writing", "i am excited to apply", "my resume", "consideration", "sincerely"},
	DocJobPosting:  {"responsibilities", "qualifications", "we are looking for", "benefits", "apply now", "equal opportunity", "about the role"},
	DocReference:   {"i have known", "it is my pleasure to recommend", "i highly recommend", "worked under my supervision", "recommendation"},
}

// ClassifyKeywords assigns a document type by keyword frequency. Confidence
// is the winning type's share of total keyword hits; zero hits yields
// DocOther with zero confidence.
func ClassifyKeywords(text string) Classification {
	lower := strings.ToLower(text)

	best := DocOther
	bestHits, total := 0, 0
	for docType, keywords := range docKeywords {
		hits := 0
		for _, kw := range keywords {
			hits += strings.Count(lower, kw)
		}
		total += hits
		if hits > bestHits {
			bestHits, best = hits, docType
		}
	}
	if bestHits == 0 {
		return Classification{DocType: DocOther, Confidence: 0}
	}
	return Classification{DocType: best, Confidence: float64(bestHits) / float64(total)}
}

// ClassifyEmbedding picks the prototype nearest to vec by cosine similarity.
// Callers supply prototypes built from previously embedded exemplar
// documents; an empty set or dimension mismatch falls through to DocOther.
func ClassifyEmbedding(vec []float64, prototypes map[string][]float64) Classification {
	best := DocOther
	bestSim := 0.0
	for docType, proto := range prototypes {
		if len(proto) != len(vec) || len(vec) == 0 {
			continue
		}
		sim := cosine(vec, proto)
		if sim > bestSim {
			bestSim, best = sim, docType
		}
	}
	return Classification{DocType: best, Confidence: bestSim}
}

func cosine(a, b []float64) float64 {
	dot := floats.Dot(a, b)
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}
