package rag

import "strings"

type Route int

const (
	RouteRetrieval Route = iota
	RouteGreeting
	RouteIdentity
)

func (r Route) String() string {
	switch r {
	case RouteGreeting:
		return "greeting"
	case RouteIdentity:
		return "identity"
	default:
		return "retrieval"
	}
}

var greetingPhrases = map[string]bool{
	"hi":             true,
	"hello":          true,
	"hey":            true,
	"hiya":           true,
	"howdy":          true,
	"yo":             true,
	"greetings":      true,
	"good morning":   true,
	"good afternoon": true,
	"good evening":   true,
	"hi there":       true,
	"hello there":    true,
	"hey there":      true,
	"whats up":       true,
	"what's up":      true,
	"sup":            true,
	"how are you":    true,
	"how's it going": true,
	"hows it going":  true,
}

var identityProbes = []string{
	"who are you",
	"what are you",
	"what can you do",
	"what do you do",
	"what is your name",
	"what's your name",
	"introduce yourself",
	"tell me about yourself",
	"are you a bot",
	"are you human",
	"are you real",
	"how can you help",
}

// Classify routes a question without retrieval, logging or model calls. It is
// a pure function over a fixed pattern set: conversational openers and
// identity probes bypass the whole pipeline.
func Classify(message string) Route {
	normalized := normalize(message)
	if normalized == "" {
		return RouteGreeting
	}

	if greetingPhrases[normalized] {
		return RouteGreeting
	}

	for _, probe := range identityProbes {
		if strings.Contains(normalized, probe) {
			return RouteIdentity
		}
	}

	return RouteRetrieval
}

func normalize(message string) string {
	s := strings.ToLower(strings.TrimSpace(message))
	return strings.TrimRight(s, " \t!?.,")
}
