package catalog

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// MatchThreshold is the lowest similarity score (0-100) at which a
// recognized name is replaced by a known medicine name.
const MatchThreshold = 70

var knownMedicines = []string{
	"Acetaminophen", "Albuterol", "Alprazolam", "Amlodipine", "Amoxicillin",
	"Aspirin", "Atorvastatin", "Azithromycin", "Candesartan", "Cetirizine",
	"Ciprofloxacin", "Citalopram", "Clopidogrel", "Diclofenac", "Doxycycline",
	"Escitalopram", "Esomeprazole", "Fluoxetine", "Furosemide", "Gabapentin",
	"Hydrochlorothiazide", "Ibuprofen", "Insulin Glargine", "Levothyroxine", "Lisinopril",
	"Loratadine", "Losartan", "Lovastatin", "Metformin", "Methotrexate",
	"Metoprolol", "Montelukast", "Naproxen", "Omeprazole", "Ondansetron",
	"Pantoprazole", "Paracetamol", "Pravastatin", "Prednisone", "Rosuvastatin",
	"Salbutamol", "Sertraline", "Simvastatin", "Tramadol", "Valsartan",
	"Warfarin",
}

// NameMatch records a recognized name that was resolved to a known medicine
type NameMatch struct {
	Input string `json:"input" yaml:"input"`
	Name  string `json:"name" yaml:"name"`
	Score int    `json:"score" yaml:"score"`
}

// MatchKnownMedicine returns the known medicine most similar to name, if it
// scores at least MatchThreshold. Ties go to the earlier list entry.
func (p *Parser) MatchKnownMedicine(name string) (NameMatch, bool) {
	query := sortedTokens(name)
	if utf8.RuneCountInString(query) < 3 {
		return NameMatch{}, false
	}

	best := NameMatch{Input: name}
	for _, known := range p.known {
		if score := similarity(query, sortedTokens(known)); score > best.Score {
			best.Name, best.Score = known, score
		}
	}
	if best.Score < MatchThreshold {
		return NameMatch{}, false
	}
	return best, true
}

// similarity scores two strings 0-100 by edit distance, relative to the
// longer of the two.
func similarity(a, b string) int {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 100 * (longest - dist) / longest
}

// sortedTokens lowercases s and sorts its words so word order does not
// affect the score.
func sortedTokens(s string) string {
	words := strings.Fields(strings.ToLower(s))
	sort.Strings(words)
	return strings.Join(words, " ")
}
