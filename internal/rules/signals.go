package rules

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tributary-ai/llm-task-router/internal/types"
)

// codeMarkers match lowercased text. Keywords only count in code position,
// so prose such as "important" or "first class" does not.
var codeMarkers = []*regexp.Regexp{
	regexp.MustCompile("```"),
	regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+\w+\s*\(`),
	regexp.MustCompile(`\bfunction\s+[a-z_$][\w$]*\(|\bfunction\s*\([^()]*\)\s*\{`),
	regexp.MustCompile(`(?m)^[ \t]*(?:export\s+|public\s+|abstract\s+|final\s+)*class\s+\w+(?:\([^)]*\))?:[ \t]*$|^[ \t]*(?:export\s+|public\s+|abstract\s+|final\s+)*class\s+\w+(?:<[^>]*>)?\s*(?:\{|extends\b|implements\b)`),
	regexp.MustCompile(`(?m)^\s*import\s+(?:[\w.]+\s*;?\s*$|[\w.]+\s+as\s+\w+|["'({*]|[\w$]+\s+from\s+["'])`),
	regexp.MustCompile(`(?m)^\s*from\s+[\w.]+\s+import\s+\w+`),
	regexp.MustCompile(`(?m)^\s*#include\s*[<"]`),
	regexp.MustCompile(`(?m)^\s*(?:pub\s+)?fn\s+\w+\s*[(<]`),
	regexp.MustCompile(`(?m)^\s*func\s+(?:\([^)]*\)\s*)?\w+\s*\(`),
	regexp.MustCompile(`\([^()]*\)\s*=>|\b[a-z_$][\w$]*\s*=>\s*[{(]`),
}

var errorMarkers = []string{"error", "exception", "failed", "failure", "panic", "fatal"}

var stackTraceMarkers = []string{"traceback", "stack trace", "stacktrace", "goroutine "}

var urgencyWords = []string{"urgent", "critical", "asap", "immediately", "emergency", "broken", "down"}

var technicalTerms = []string{
	"api", "database", "server", "performance", "memory", "thread", "concurrency",
	"latency", "cache", "deploy", "kubernetes", "docker", "authentication", "security",
	"migration", "schema", "endpoint", "queue",
}

// languageKeywords is checked in order; the first language with a hit wins
var languageKeywords = []struct {
	language string
	keywords []string
}{
	{"python", []string{"python", ".py", "django", "flask", "fastapi", "pip ", "pytest"}},
	{"javascript", []string{"javascript", ".js", "node", "npm", "react", "vue", "angular"}},
	{"typescript", []string{"typescript", ".ts", "tsx", "interface "}},
	{"java", []string{"java ", ".java", "spring", "maven", "gradle"}},
	{"go", []string{"golang", ".go", "goroutine", "channel"}},
	{"rust", []string{"rust", ".rs", "cargo", "crate"}},
	{"sql", []string{"sql", "query", "database", "select ", "insert "}},
}

// Signals are heuristics extracted from the request text
type Signals struct {
	HasCode           bool         `json:"has_code"`
	HasErrors         bool         `json:"has_errors"`
	HasStackTrace     bool         `json:"has_stack_trace"`
	Length            int          `json:"length"`
	TechnicalTerms    int          `json:"technical_terms"`
	UrgencyIndicators []string     `json:"urgency_indicators,omitempty"`
	Language          string       `json:"language,omitempty"`
	Effort            types.Effort `json:"effort"`
}

// AnalyzeSignals inspects prompt and context text
func AnalyzeSignals(text string) Signals {
	lower := strings.ToLower(text)

	s := Signals{
		HasCode:       matchesAny(lower, codeMarkers),
		HasErrors:     containsAny(lower, errorMarkers),
		HasStackTrace: containsAny(lower, stackTraceMarkers),
		Length:        utf8.RuneCountInString(text),
	}

	for _, term := range technicalTerms {
		if strings.Contains(lower, term) {
			s.TechnicalTerms++
		}
	}
	for _, word := range urgencyWords {
		if strings.Contains(lower, word) {
			s.UrgencyIndicators = append(s.UrgencyIndicators, word)
		}
	}
	if s.HasCode {
		s.Language = detectLanguage(lower)
	}
	s.Effort = estimateEffort(s)
	return s
}

// estimateEffort scores the signals into a T-shirt size
func estimateEffort(s Signals) types.Effort {
	score := 0
	if s.HasCode {
		score += 3
	}
	if s.HasErrors {
		score += 2
	}
	if s.HasStackTrace {
		score += 2
	}
	if s.Length > 2000 {
		score += 2
	}
	if s.TechnicalTerms > 3 {
		score++
	}

	switch {
	case score <= 2:
		return types.EffortS
	case score <= 5:
		return types.EffortM
	case score <= 8:
		return types.EffortL
	default:
		return types.EffortXL
	}
}

func detectLanguage(lower string) string {
	for _, lk := range languageKeywords {
		if containsAny(lower, lk.keywords) {
			return lk.language
		}
	}
	return ""
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
