package catalog

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	nameDosageRe = regexp.MustCompile(`(?i)([a-z][a-z\s\-]*?)\s+(\d+(?:\.\d+)?\s*(?:mg|mcg|g|ml|iu|units?|tablets?|capsules?|pills?|drops?))\b`)
	clockTimeRe  = regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})\s*(am|pm)?`)
	hourTimeRe   = regexp.MustCompile(`(?i)(?:^|[^:\d])(\d{1,2})\s*(am|pm)\b`)
	durationRe   = regexp.MustCompile(`(?i)(?:for\s+)?(\d+\s*(?:days?|weeks?|months?))`)
)

// ParsedPrescription is the outcome of reading recognized prescription text
type ParsedPrescription struct {
	Medicines  []Medicine
	Matches    []NameMatch
	Lines      int
	Confidence float64
}

// Parser turns recognized prescription text into partial medicines
type Parser struct {
	frequencyKeywords []keyword
	timeKeywords      []keyword
	forms             []string
	known             []string
}

type keyword struct {
	match string
	value string
}

// NewParser creates a new prescription parser
func NewParser() *Parser {
	return &Parser{
		// Ordered: more specific phrases first
		frequencyKeywords: []keyword{
			{"four times", "four times daily"},
			{"three times", "three times daily"},
			{"twice a day", "twice daily"},
			{"twice daily", "twice daily"},
			{"bid", "twice daily"},
			{"tid", "three times daily"},
			{"qid", "four times daily"},
			{"once a day", "once daily"},
			{"every day", "once daily"},
			{"every morning", "once daily"},
			{"every evening", "once daily"},
			{"daily", "once daily"},
			{"weekly", "weekly"},
			{"as needed", "as needed"},
			{"when needed", "as needed"},
			{"prn", "as needed"},
		},
		timeKeywords: []keyword{
			{"morning", "08:00"},
			{"breakfast", "08:00"},
			{"noon", "12:00"},
			{"lunch", "12:00"},
			{"evening", "18:00"},
			{"dinner", "18:00"},
			{"bedtime", "22:00"},
			{"before bed", "22:00"},
		},
		forms: []string{"tablet", "capsule", "pill", "liquid", "injection", "inhaler", "cream", "ointment", "drops", "syrup"},
		known: knownMedicines,
	}
}

// ParsePrescription reads one medicine per line. Names close to a known
// medicine are corrected to it and listed in Matches. Confidence is the
// share of non-empty lines that yielded a dosage.
func (p *Parser) ParsePrescription(text string) ParsedPrescription {
	result := ParsedPrescription{Medicines: []Medicine{}}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		result.Lines++

		m, ok := p.parseLine(line)
		if !ok {
			continue
		}
		if match, ok := p.MatchKnownMedicine(m.Name); ok {
			m.Name = match.Name
			result.Matches = append(result.Matches, match)
		}
		result.Medicines = append(result.Medicines, m)
	}

	if result.Lines > 0 {
		ratio := float64(len(result.Medicines)) / float64(result.Lines)
		result.Confidence = math.Round(ratio*100) / 100
	}
	return result
}

func (p *Parser) parseLine(line string) (Medicine, bool) {
	lower := strings.ToLower(line)

	name, dosage := p.extractNameAndDosage(line)
	if dosage == "" {
		return Medicine{}, false
	}

	m := Medicine{
		Name:      name,
		Dosage:    dosage,
		Frequency: p.extractFrequency(lower),
		Times:     p.extractTimes(lower),
		Duration:  p.extractDuration(lower),
		Category:  CategoryPrescription,
	}

	var notes []string
	if form := p.extractForm(lower); form != "" {
		notes = append(notes, form)
	}
	if strings.Contains(lower, "with food") || strings.Contains(lower, "after meal") || strings.Contains(lower, "with meals") {
		notes = append(notes, "take with food")
	}
	if strings.Contains(lower, "empty stomach") || strings.Contains(lower, "before meal") {
		notes = append(notes, "take on an empty stomach")
	}
	m.Instructions = strings.Join(notes, "; ")
	m.Taken = make([]bool, len(m.Times))
	return m, true
}

func (p *Parser) extractNameAndDosage(line string) (name, dosage string) {
	matches := nameDosageRe.FindStringSubmatch(line)
	if len(matches) < 3 {
		return "", ""
	}
	name = strings.TrimSpace(matches[1])
	if strings.HasPrefix(strings.ToLower(name), "take ") {
		name = name[len("take "):]
	}
	name = titleCase(name)
	dosage = strings.ToLower(strings.Join(strings.Fields(matches[2]), " "))
	return name, dosage
}

func (p *Parser) extractForm(text string) string {
	for _, form := range p.forms {
		if strings.Contains(text, form) {
			return form
		}
	}
	return ""
}

func (p *Parser) extractFrequency(text string) string {
	for _, k := range p.frequencyKeywords {
		if containsWord(text, k.match) {
			return k.value
		}
	}
	return ""
}

func (p *Parser) extractTimes(text string) []string {
	times := []string{}

	for _, match := range clockTimeRe.FindAllStringSubmatch(text, -1) {
		hour, _ := strconv.Atoi(match[1])
		minute, _ := strconv.Atoi(match[2])
		if t, ok := to24h(hour, minute, match[3]); ok {
			times = appendUnique(times, t)
		}
	}
	for _, match := range hourTimeRe.FindAllStringSubmatch(text, -1) {
		hour, _ := strconv.Atoi(match[1])
		if t, ok := to24h(hour, 0, match[2]); ok {
			times = appendUnique(times, t)
		}
	}
	for _, k := range p.timeKeywords {
		if strings.Contains(text, k.match) {
			times = appendUnique(times, k.value)
		}
	}
	return times
}

func (p *Parser) extractDuration(text string) string {
	matches := durationRe.FindStringSubmatch(text)
	if len(matches) < 2 {
		return ""
	}
	return strings.Join(strings.Fields(matches[1]), " ")
}

func to24h(hour, minute int, ampm string) (string, bool) {
	switch strings.ToLower(ampm) {
	case "pm":
		if hour != 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

func appendUnique(slice []string, item string) []string {
	for _, s := range slice {
		if s == item {
			return slice
		}
	}
	return append(slice, item)
}

func containsWord(text, phrase string) bool {
	idx := strings.Index(text, phrase)
	for idx >= 0 {
		end := idx + len(phrase)
		before := idx == 0 || !isLetter(text[idx-1])
		after := end == len(text) || !isLetter(text[end])
		if before && after {
			return true
		}
		next := strings.Index(text[idx+1:], phrase)
		if next < 0 {
			break
		}
		idx += next + 1
	}
	return false
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
