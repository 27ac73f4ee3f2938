package roles

import (
	"regexp"
	"strings"
	"unicode"
)

var emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)

func findEmail(message string) string {
	return strings.TrimRight(emailPattern.FindString(message), ".")
}

// normalize lower-cases, folds curly apostrophes and pads with spaces so
// phrase matching can anchor on word boundaries.
func normalize(message string) string {
	s := strings.ToLower(message)
	s = strings.NewReplacer("’", "'", "‘", "'").Replace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '$' || r == '%' {
			return r
		}
		return ' '
	}, s)
	return " " + strings.Join(strings.Fields(s), " ") + " "
}

// containsAny reports whether normalized text holds any phrase as whole words.
func containsAny(normalized string, phrases ...string) bool {
	for _, p := range phrases {
		if strings.Contains(normalized, " "+p+" ") {
			return true
		}
	}
	return false
}

// containsStem matches word prefixes, so "freez" finds "freezes".
func containsStem(normalized string, stems ...string) bool {
	for _, p := range stems {
		if strings.Contains(normalized, " "+p) {
			return true
		}
	}
	return false
}

var (
	affirmativePhrases = []string{
		"yes", "yeah", "yep", "yup", "sure", "ok", "okay", "confirm", "confirmed",
		"i confirm", "go ahead", "please do", "do it", "proceed", "correct", "that's right",
	}
	negativePhrases = []string{
		"no", "nope", "not", "don't", "dont", "do not", "never", "wait", "hold on",
	}
	acceptPhrases = []string{
		"yes", "yeah", "sure", "ok", "okay", "sounds good", "that works", "deal",
		"i'll take", "i will take", "i accept", "accept", "let's do", "lets do", "please apply",
		"i'd like that", "i would like that", "great",
	}
	insistPhrases = []string{
		"cancel", "just cancel", "cancel it", "still want to cancel", "want to cancel",
		"please cancel", "end my subscription", "stop the service", "not interested",
		"no thanks", "already decided", "i said cancel",
	}
	rejectPhrases = []string{
		"no", "nope", "no thanks", "not interested", "don't want", "dont want",
		"not for me", "doesn't help", "doesn't work", "won't work", "pass",
	}
	pausePhrases     = []string{"pause", "pausing", "put on hold", "on hold", "suspend", "freeze my"}
	downgradePhrases = []string{"downgrade", "cheaper plan", "lower plan", "basic plan", "switch to basic", "smaller plan"}
	cancelPhrases    = []string{"cancel", "cancellation", "terminate", "close my account", "end my subscription"}
)

func isAffirmative(n string) bool {
	return containsAny(n, affirmativePhrases...) && !containsAny(n, negativePhrases...)
}

func isAcceptance(n string) bool {
	return containsAny(n, acceptPhrases...) && !containsAny(n, negativePhrases...) && !containsStem(n, "cancel")
}

func isInsistOrReject(n string) bool {
	return containsAny(n, insistPhrases...) || containsAny(n, rejectPhrases...)
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}
