package services

import (
	"context"
	"regexp"
	"strings"
)

// Document types produced by PatternClassifier.
const (
	DocTypeDeathCertificate = "death_certificate"
	DocTypeBirthCertificate = "birth_certificate"
	DocTypeFuneralInvoice   = "funeral_invoice"
	DocTypeBenefitLetter    = "benefit_letter"
	DocTypeUnknown          = "unknown"
)

// Classifier assigns a document type from its OCR text and filename.
type Classifier interface {
	Classify(ctx context.Context, filename, text string) (string, error)
}

type signature struct {
	docType  string
	patterns []*regexp.Regexp
	// fields renames extracted field names to the target form's names.
	fields map[string]string
	// filenameHints are used when the text gives no signal.
	filenameHints []string
}

func mustPatterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

var signatures = []signature{
	{
		docType:  DocTypeDeathCertificate,
		patterns: mustPatterns(`death\s+certificate`, `certificate\s+of\s+death`, `cause\s+of\s+death`, `date\s+of\s+death`, `registration\s+of\s+death`),
		fields: map[string]string{
			"dateOfDeath":  "deceasedDateOfDeath",
			"dateOfBirth":  "deceasedDateOfBirth",
			"firstName":    "deceasedFirstName",
			"lastName":     "deceasedLastName",
			"name":         "deceasedFirstName",
			"surname":      "deceasedLastName",
			"placeOfDeath": "deceasedPlaceOfDeath",
		},
		filenameHints: []string{"death"},
	},
	{
		docType:  DocTypeBirthCertificate,
		patterns: mustPatterns(`birth\s+certificate`, `certificate\s+of\s+birth`, `date\s+of\s+birth`, `registration\s+of\s+birth`),
		fields: map[string]string{
			"dateOfBirth":  "dateOfBirth",
			"firstName":    "firstName",
			"lastName":     "lastName",
			"name":         "firstName",
			"surname":      "lastName",
			"placeOfBirth": "placeOfBirth",
		},
		filenameHints: []string{"birth"},
	},
	{
		docType:  DocTypeFuneralInvoice,
		patterns: mustPatterns(`funeral\s+invoice`, `funeral\s+director`, `funeral\s+bill`, `funeral\s+service`, `cremation`, `burial`),
		fields: map[string]string{
			"invoiceNumber": "funeralEstimateNumber",
			"date":          "funeralDateIssued",
			"dateIssued":    "funeralDateIssued",
			"total":         "funeralTotalEstimatedCost",
			"amount":        "funeralTotalEstimatedCost",
			"cost":          "funeralTotalEstimatedCost",
			"description":   "funeralDescription",
			"services":      "funeralDescription",
		},
		filenameHints: []string{"invoice", "bill", "funeral", "director"},
	},
	{
		docType:  DocTypeBenefitLetter,
		patterns: mustPatterns(`benefit\s+letter`, `department\s+for\s+work\s+and\s+pensions`, `dwp`, `universal\s+credit`, `pension\s+credit`, `income\s+support`),
		fields: map[string]string{
			"benefitType": "benefitType",
			"startDate":   "benefitStartDate",
			"endDate":     "benefitEndDate",
			"amount":      "benefitAmount",
			"reference":   "benefitReference",
		},
		filenameHints: []string{"benefit", "letter", "dwp", "pension"},
	},
}

// PatternClassifier scores each known document type by signature matches in the
// text and filename. The highest score wins; with no match it falls back to
// filename hints and then to "unknown".
type PatternClassifier struct{}

func (PatternClassifier) Classify(_ context.Context, filename, text string) (string, error) {
	combined := text + " " + filename
	best, bestScore := "", 0
	for _, sig := range signatures {
		score := 0
		for _, p := range sig.patterns {
			score += 2 * len(p.FindAllStringIndex(combined, -1))
		}
		if score > bestScore {
			best, bestScore = sig.docType, score
		}
	}
	if best != "" {
		return best, nil
	}

	name := strings.ToLower(filename)
	for _, sig := range signatures {
		for _, hint := range sig.filenameHints {
			if strings.Contains(name, hint) {
				return sig.docType, nil
			}
		}
	}
	return DocTypeUnknown, nil
}

// NormalizeFieldName maps a generic extracted field name to the name used for docType.
func NormalizeFieldName(docType, name string) string {
	for _, sig := range signatures {
		if sig.docType != docType {
			continue
		}
		if mapped, ok := sig.fields[name]; ok {
			return mapped
		}
	}
	return name
}
