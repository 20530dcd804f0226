// Package rules is a deterministic keyword and regular-expression classifier
// for job postings.
package rules

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/JakeFAU/realtime-job-postings/internal/posting"
)

// Classifier implements posting.Classifier with fixed vocabularies.
type Classifier struct{}

var _ posting.Classifier = Classifier{}

// New returns the rule-based classifier.
func New() Classifier {
	return Classifier{}
}

// Classify derives every field from title, description and location.
func (Classifier) Classify(in posting.Input) posting.Classification {
	text := in.Title + "\n" + in.Description
	lower := strings.ToLower(text)
	return posting.Classification{
		Salary:            ExtractSalary(text),
		Location:          ParseLocation(in.Location),
		Industry:          firstMatch(strings.ToLower(in.Title), lower, industries, "Other"),
		Seniority:         Seniority(in.Title),
		Keywords:          matchAll(lower, keywords),
		Certificates:      matchAll(lower, certificates),
		Role:              Role(in.Title, lower),
		Software:          matchAll(lower, software),
		ProgrammingSkills: ProgrammingSkills(text),
		YearsExperience:   YearsExperience(lower),
		AcademicDegrees:   matchAll(lower, degrees),
	}
}

type term struct {
	label string
	re    *regexp.Regexp
}

func terms(pairs ...string) []term {
	out := make([]term, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, term{label: pairs[i], re: regexp.MustCompile(`\b(?:` + pairs[i+1] + `)\b`)})
	}
	return out
}

var (
	industries = terms(
		"Technology", `software|developer|engineer(?:ing)?|devops|data scientist|it support|saas|cloud`,
		"Healthcare", `nurse|nursing|clinical|hospital|physician|healthcare|pharmacy|medical`,
		"Finance", `bank(?:ing)?|finance|financial|accountant|accounting|audit(?:or)?|actuar(?:y|ial)|investment`,
		"Education", `teacher|teaching|school|university|tutor|lecturer|education`,
		"Retail", `retail|store associate|cashier|merchandis(?:er|ing)|e-commerce|ecommerce`,
		"Manufacturing", `manufacturing|factory|assembly|production line|machinist|plant`,
		"Logistics", `logistics|warehouse|supply chain|driver|delivery|freight`,
		"Marketing", `marketing|seo|brand|advertising|content writer|copywriter`,
		"Hospitality", `hotel|restaurant|chef|cook|barista|hospitality`,
		"Legal", `lawyer|attorney|paralegal|legal|solicitor`,
		"Government", `government|public sector|federal|municipal`,
	)
	keywords = terms(
		"remote", `remote|work from home|wfh`,
		"hybrid", `hybrid`,
		"visa sponsorship", `visa sponsorship|sponsor(?:ship)? visa`,
		"equity", `equity|stock options`,
		"startup", `start-?up`,
		"benefits", `benefits|health insurance|401k`,
		"urgent", `urgent(?:ly)?|immediate start`,
		"bonus", `bonus`,
		"flexible hours", `flexible (?:hours|schedule)`,
	)
	certificates = terms(
		"AWS Certified", `aws certified|aws certification`,
		"PMP", `pmp`,
		"CPA", `cpa`,
		"CFA", `cfa`,
		"CISSP", `cissp`,
		"CompTIA", `comptia|security\+|network\+`,
		"Scrum Master", `scrum master|csm`,
		"CKA", `cka|certified kubernetes`,
		"ITIL", `itil`,
	)
	software = terms(
		"Excel", `excel`,
		"Salesforce", `salesforce`,
		"Jira", `jira`,
		"SAP", `sap`,
		"Tableau", `tableau`,
		"Power BI", `power ?bi`,
		"Docker", `docker`,
		"Kubernetes", `kubernetes|k8s`,
		"AWS", `aws|amazon web services`,
		"GCP", `gcp|google cloud`,
		"Azure", `azure`,
		"Figma", `figma`,
		"Git", `git|github|gitlab`,
		"Terraform", `terraform`,
	)
	degrees = terms(
		"Bachelor", `bachelor'?s?|b\.?sc?\.?|undergraduate degree`,
		"Master", `master'?s? degree|masters|m\.?sc\.?`,
		"PhD", `ph\.?d\.?|doctorate`,
		"MBA", `mba`,
		"Associate", `associate'?s? degree`,
	)
	categories = terms(
		"Engineering", `engineer(?:ing)?|developer|programmer|sre|devops`,
		"Data", `data|analytics|analyst|machine learning|ml`,
		"Design", `designer|ux|ui`,
		"Product", `product manager|product owner`,
		"Sales", `sales|account executive|business development`,
		"Marketing", `marketing|seo|content`,
		"Operations", `operations|logistics|warehouse`,
		"Support", `support|customer service|help ?desk`,
		"Finance", `accountant|finance|financial|audit`,
		"Healthcare", `nurse|clinical|physician|therapist`,
		"Education", `teacher|tutor|lecturer`,
	)
	seniorities = terms(
		"intern", `intern|internship|trainee|apprentice`,
		"junior", `junior|jr\.?|entry[- ]level|graduate`,
		"executive", `director|head of|vp|vice president|chief|cto|cfo|ceo`,
		"manager", `manager|supervisor`,
		"lead", `lead|principal|staff|architect`,
		"senior", `senior|sr\.?`,
	)
	roleTypes = terms(
		"Internship", `intern|internship|apprentice(?:ship)?`,
		"Contract", `contract(?:or)?|freelance|fixed[- ]term`,
		"Temporary", `temporary|temp|seasonal`,
		"Part-time", `part[- ]time`,
		"Full-time", `full[- ]time|permanent`,
	)
)

var languageTerms = []term{
	{label: "Go", re: regexp.MustCompile(`\bGo\b|(?i)\bgolang\b`)},
	{label: "Python", re: regexp.MustCompile(`(?i)\bpython\b`)},
	{label: "Java", re: regexp.MustCompile(`(?i)\bjava\b`)},
	{label: "JavaScript", re: regexp.MustCompile(`(?i)\b(?:javascript|node\.?js|react)\b`)},
	{label: "TypeScript", re: regexp.MustCompile(`(?i)\btypescript\b`)},
	{label: "Rust", re: regexp.MustCompile(`\bRust\b`)},
	{label: "C++", re: regexp.MustCompile(`(?i)(?:^|[^\w])c\+\+`)},
	{label: "C#", re: regexp.MustCompile(`(?i)(?:^|[^\w])c#|\.net\b`)},
	{label: "SQL", re: regexp.MustCompile(`(?i)\b(?:sql|postgres(?:ql)?|mysql)\b`)},
	{label: "Ruby", re: regexp.MustCompile(`(?i)\bruby\b`)},
	{label: "PHP", re: regexp.MustCompile(`(?i)\bphp\b`)},
	{label: "Kotlin", re: regexp.MustCompile(`(?i)\bkotlin\b`)},
	{label: "Swift", re: regexp.MustCompile(`\bSwift\b`)},
	{label: "Scala", re: regexp.MustCompile(`(?i)\bscala\b`)},
}

// ProgrammingSkills finds language names. Go, Rust and Swift are matched
// case-sensitively because their lower-case forms are ordinary words.
func ProgrammingSkills(text string) []string {
	return matchAll(text, languageTerms)
}

// Seniority reads the level from a job title, defaulting to "mid".
func Seniority(title string) string {
	return firstMatch(strings.ToLower(title), "", seniorities, "mid")
}

// Role returns the employment type (default Full-time) and job function.
func Role(title, lowerText string) posting.Role {
	lowerTitle := strings.ToLower(title)
	return posting.Role{
		Type:     firstMatch(lowerTitle, lowerText, roleTypes, "Full-time"),
		Category: firstMatch(lowerTitle, lowerText, categories, "Other"),
	}
}

var yearsRe = regexp.MustCompile(`(\d{1,2})\s*\+?\s*(?:-\s*\d{1,2}\s*)?(?:years?|yrs?)`)

// YearsExperience returns the smallest "N years" requirement in the text.
func YearsExperience(lower string) *int {
	var best *int
	for _, m := range yearsRe.FindAllStringSubmatch(lower, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n > 40 {
			continue
		}
		if best == nil || n < *best {
			v := n
			best = &v
		}
	}
	return best
}

// firstMatch prefers the title, then the full text, then fallback.
func firstMatch(title, text string, vocab []term, fallback string) string {
	for _, t := range vocab {
		if t.re.MatchString(title) {
			return t.label
		}
	}
	for _, t := range vocab {
		if t.re.MatchString(text) {
			return t.label
		}
	}
	return fallback
}

// matchAll returns the sorted labels of every matching term, or nil.
func matchAll(text string, vocab []term) []string {
	var out []string
	for _, t := range vocab {
		if t.re.MatchString(text) {
			out = append(out, t.label)
		}
	}
	sort.Strings(out)
	return out
}
