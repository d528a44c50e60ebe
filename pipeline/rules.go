package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/complymed/backend/model"
)

// Finding is a single hit from a deterministic rule check
type Finding struct {
	Code       string // machine-readable issue code
	Citation   string // rule citation label
	Category   string
	Tier       string // high, medium, low
	Message    string
	Suggestion string
}

// Severity tiers used by rule findings
const (
	TierHigh   = "high"
	TierMedium = "medium"
	TierLow    = "low"
)

// TierSeverity maps a rule severity tier to an issue severity
func TierSeverity(tier string) string {
	switch tier {
	case TierHigh:
		return model.SeverityError
	case TierMedium:
		return model.SeverityWarning
	default:
		return model.SeverityInfo
	}
}

// ToIssue converts a rule finding into an issue. Rule issues carry no
// regulation citation list; the citation label goes into the notes.
func (f Finding) ToIssue() model.Issue {
	return model.Issue{
		Category:    f.Category,
		Severity:    TierSeverity(f.Tier),
		Title:       f.Message,
		Description: f.Message,
		Suggestion:  f.Suggestion,
		Notes:       "Rule citation: " + f.Citation,
		Code:        f.Code,
	}
}

var (
	reNonSterile = regexp.MustCompile(`(?i)non[\s-]?sterile`)
	reSterile    = regexp.MustCompile(`(?i)\bsterile\b`)

	reUnitHeaderMM = regexp.MustCompile(`(?i)(?:unit|dimension)s?[^\n]{0,40}\b(?:mm|millimet(?:er|re)s?)\b`)
	reMetricOther  = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:cm|centimet(?:er|re)s?|met(?:er|re)s?|m)\b`)

	reLatex   = regexp.MustCompile(`(?i)\b(?:natural rubber latex|rubber latex|latex)\b`)
	reAllergy = regexp.MustCompile(`(?i)allerg|hypersensitiv`)

	rePercent = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)

	reHumanContact = regexp.MustCompile(`(?i)skin contact|body contact|patient contact|tissue contact|mucosal|biocompatib`)

	reTrademark = regexp.MustCompile(`[A-Za-z][A-Za-z0-9-]*\s*(?:™|®)`)
	reCAS       = regexp.MustCompile(`\b\d{2,7}-\d{2}-\d\b`)
	reGeneric   = regexp.MustCompile(`(?i)\b(?:polytetrafluoroethylene|polyurethane|polycarbonate|polypropylene|polyethylene|polyvinyl chloride|silicone|stainless steel|titanium|nitinol)\b`)

	reAdditive = regexp.MustCompile(`(?i)\b(?:additive|pigment|colorant|plasticizer|stabilizer|filler)\b`)
	rePurpose  = regexp.MustCompile(`(?i)\b(?:purpose|function|role)\b`)

	reStandards = regexp.MustCompile(`(?i)\b(?:ISO|IEC|ASTM|EN|AAMI|USP)\s*[- ]?\d{2,5}\b`)
	reSelfCert  = regexp.MustCompile(`(?i)self[\s-]certif`)

	reConfirm   = regexp.MustCompile(`(?i)\bconfirm(?:ed|ation|s)?\b`)
	reSingleUse = regexp.MustCompile(`(?i)single[\s-]use|do not re-?use`)
)

// namedChemicals maps chemical names that must be cited with their CAS
// registry number when they appear in a material table.
var namedChemicals = []struct {
	Name string
	Re   *regexp.Regexp
	CAS  string
}{
	{"DEHP", regexp.MustCompile(`(?i)\bDEHP\b|di\(2-ethylhexyl\) phthalate`), "117-81-7"},
	{"bisphenol A", regexp.MustCompile(`(?i)\bbisphenol[\s-]A\b|\bBPA\b`), "80-05-7"},
	{"ethylene oxide", regexp.MustCompile(`(?i)\bethylene oxide\b`), "75-21-8"},
	{"formaldehyde", regexp.MustCompile(`(?i)\bformaldehyde\b`), "50-00-0"},
	{"toluene", regexp.MustCompile(`(?i)\btoluene\b`), "108-88-3"},
}

// prohibitedTerms is a fixed denylist of promotional claims that misbrand
// a medical device.
var prohibitedTerms = []string{
	"guaranteed cure",
	"100% safe",
	"completely safe",
	"no side effects",
	"risk-free",
	"miracle",
	"fda endorsed",
	"clinically proven to cure",
}

// trademarkWindow is the fixed number of trailing characters within which a
// brand name must be accompanied by a generic or chemical name.
const trademarkWindow = 120

// RuleEngine runs a fixed, ordered battery of independent pure-text checks.
// Given identical input it always returns the identical finding list: no
// randomness, no external calls, and no check observes another's output.
type RuleEngine struct {
	checks []func(string) []Finding
}

func NewRuleEngine() *RuleEngine {
	return &RuleEngine{
		checks: []func(string) []Finding{
			checkSterileConflict,
			checkUnitMismatch,
			checkLatexAllergy,
			checkChemicalRegistry,
			checkPercentageSum,
			checkHumanContactDisclosure,
			checkTrademarkGeneric,
			checkAdditivePurpose,
			checkGenericNamePresence,
			checkStandardsCitation,
			checkConfirmationRedundancy,
			checkSingleUseDeclaration,
			checkProhibitedTerms,
		},
	}
}

// Run executes every check in its fixed order and concatenates the findings.
func (e *RuleEngine) Run(text string) []Finding {
	var findings []Finding
	for _, check := range e.checks {
		findings = append(findings, check(text)...)
	}
	return findings
}

func checkSterileConflict(text string) []Finding {
	if !reNonSterile.MatchString(text) {
		return nil
	}
	// Strip the non-sterile markers so the sterile marker must stand alone
	stripped := reNonSterile.ReplaceAllString(text, "")
	if !reSterile.MatchString(stripped) {
		return nil
	}
	return []Finding{{
		Code:       "STERILE_CONFLICT",
		Citation:   "ISO 11607-1",
		Category:   "sterility",
		Tier:       TierHigh,
		Message:    "Document declares the device both sterile and non-sterile",
		Suggestion: "State a single sterility status, or clearly separate sterile and non-sterile configurations",
	}}
}

func checkUnitMismatch(text string) []Finding {
	if !reUnitHeaderMM.MatchString(text) {
		return nil
	}
	if !reMetricOther.MatchString(text) {
		return nil
	}
	return []Finding{{
		Code:       "UNIT_MISMATCH",
		Citation:   "ISO 15223-1",
		Category:   "labeling",
		Tier:       TierMedium,
		Message:    "Units header declares millimeters but the body contains centimeter or meter values",
		Suggestion: "Convert all dimensional values to the declared unit",
	}}
}

func checkLatexAllergy(text string) []Finding {
	if !reLatex.MatchString(text) {
		return nil
	}
	if reAllergy.MatchString(text) {
		return nil
	}
	return []Finding{{
		Code:       "LATEX_NO_ALLERGY_WARNING",
		Citation:   "21 CFR 801.437",
		Category:   "materials",
		Tier:       TierHigh,
		Message:    "Natural rubber latex is listed without an allergy warning",
		Suggestion: "Add the required latex hypersensitivity warning statement",
	}}
}

func checkChemicalRegistry(text string) []Finding {
	var findings []Finding
	for _, chem := range namedChemicals {
		if !chem.Re.MatchString(text) {
			continue
		}
		if strings.Contains(text, chem.CAS) {
			continue
		}
		findings = append(findings, Finding{
			Code:       "CHEMICAL_NO_CAS",
			Citation:   "ISO 10993-18",
			Category:   "materials",
			Tier:       TierMedium,
			Message:    fmt.Sprintf("Chemical %s is named without its CAS registry number %s", chem.Name, chem.CAS),
			Suggestion: fmt.Sprintf("Cite %s with CAS %s in the material characterization", chem.Name, chem.CAS),
		})
	}
	return findings
}

func checkPercentageSum(text string) []Finding {
	matches := rePercent.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	var sum float64
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		sum += v
	}
	if math.Abs(sum-100) <= 0.5 {
		return nil
	}
	rounded := math.Round(sum*10) / 10
	return []Finding{{
		Code:       "COMPOSITION_SUM",
		Citation:   "ISO 10993-18",
		Category:   "materials",
		Tier:       TierMedium,
		Message:    fmt.Sprintf("Material composition percentages sum to %s%%, expected 100%%", strconv.FormatFloat(rounded, 'f', -1, 64)),
		Suggestion: "Reconcile the composition table so component percentages total 100%",
	}}
}

func checkHumanContactDisclosure(text string) []Finding {
	if reHumanContact.MatchString(text) {
		return nil
	}
	return []Finding{{
		Code:       "NO_CONTACT_DISCLOSURE",
		Citation:   "ISO 10993-1",
		Category:   "materials",
		Tier:       TierLow,
		Message:    "No human-contact disclosure found for the device materials",
		Suggestion: "State the nature and duration of body contact for each patient-contacting material",
	}}
}

func checkTrademarkGeneric(text string) []Finding {
	var findings []Finding
	for _, loc := range reTrademark.FindAllStringIndex(text, -1) {
		end := loc[1] + trademarkWindow
		if end > len(text) {
			end = len(text)
		}
		window := text[loc[1]:end]
		if reGeneric.MatchString(window) || reCAS.MatchString(window) {
			continue
		}
		brand := strings.TrimSpace(text[loc[0]:loc[1]])
		findings = append(findings, Finding{
			Code:       "BRAND_NO_GENERIC",
			Citation:   "ISO 10993-18",
			Category:   "materials",
			Tier:       TierMedium,
			Message:    fmt.Sprintf("Brand name %s is not accompanied by a generic or chemical name", brand),
			Suggestion: "Follow each brand name with the generic material name or CAS number",
		})
	}
	return findings
}

func checkAdditivePurpose(text string) []Finding {
	lacking := false
	for _, loc := range reAdditive.FindAllStringIndex(text, -1) {
		start := loc[0] - trademarkWindow
		if start < 0 {
			start = 0
		}
		end := loc[1] + trademarkWindow
		if end > len(text) {
			end = len(text)
		}
		if !rePurpose.MatchString(text[start:end]) {
			lacking = true
			break
		}
	}
	if !lacking {
		return nil
	}
	return []Finding{{
		Code:       "ADDITIVE_NO_PURPOSE",
		Citation:   "ISO 10993-18",
		Category:   "materials",
		Tier:       TierMedium,
		Message:    "Additives or pigments are listed without a stated purpose",
		Suggestion: "State the function of each additive, pigment, or plasticizer in the material table",
	}}
}

func checkGenericNamePresence(text string) []Finding {
	if reGeneric.MatchString(text) || reCAS.MatchString(text) {
		return nil
	}
	return []Finding{{
		Code:       "NO_GENERIC_NAMES",
		Citation:   "ISO 10993-18",
		Category:   "materials",
		Tier:       TierMedium,
		Message:    "No generic material names or CAS registry numbers found anywhere in the document",
		Suggestion: "Identify device materials by generic or chemical name, not trade name alone",
	}}
}

func checkStandardsCitation(text string) []Finding {
	if reStandards.MatchString(text) || reSelfCert.MatchString(text) {
		return nil
	}
	return []Finding{{
		Code:       "NO_STANDARDS_CITATION",
		Citation:   "ISO 13485",
		Category:   "conformity",
		Tier:       TierMedium,
		Message:    "No recognized standards-body citation or self-certified standard declared",
		Suggestion: "Cite the consensus standards the device conforms to, or declare a self-certified standard",
	}}
}

func checkConfirmationRedundancy(text string) []Finding {
	if len(reConfirm.FindAllString(text, -1)) < 3 {
		return nil
	}
	return []Finding{{
		Code:       "IFU_REDUNDANT_CONFIRMATION",
		Citation:   "IEC 62366-1",
		Category:   "instructions_for_use",
		Tier:       TierLow,
		Message:    "Confirmation instruction repeats three or more times in the instructions for use",
		Suggestion: "Consolidate repeated confirmation steps into a single clear instruction",
	}}
}

func checkSingleUseDeclaration(text string) []Finding {
	if reSingleUse.MatchString(text) {
		return nil
	}
	return []Finding{{
		Code:       "NO_SINGLE_USE_DECLARATION",
		Citation:   "ISO 15223-1",
		Category:   "instructions_for_use",
		Tier:       TierMedium,
		Message:    "No single-use or no-reuse declaration found",
		Suggestion: "Declare whether the device is single-use or reusable, with reprocessing instructions if reusable",
	}}
}

func checkProhibitedTerms(text string) []Finding {
	lower := strings.ToLower(text)
	var findings []Finding
	for _, term := range prohibitedTerms {
		if !strings.Contains(lower, term) {
			continue
		}
		findings = append(findings, Finding{
			Code:       "PROHIBITED_TERM",
			Citation:   "FD&C Act §502",
			Category:   "terminology",
			Tier:       TierHigh,
			Message:    fmt.Sprintf("Prohibited promotional term %q found in submission text", term),
			Suggestion: fmt.Sprintf("Remove or substantiate the claim %q", term),
		})
	}
	return findings
}
