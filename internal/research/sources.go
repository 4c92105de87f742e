package research

import "regexp"

var (
	markdownLinkRe = regexp.MustCompile(`\[[^\]]*\]\((https?://[^)\s]+)\)`)
	bareURLRe      = regexp.MustCompile(`https?://[^\s<>()\[\]]+`)
	citationRe     = regexp.MustCompile(`\[(\d{1,3})\]`)
)

// ExtractSources pulls a flat list of source labels out of a research
// response: provider-reported citations first, then markdown link targets,
// then bare URLs, then numeric citation markers. Duplicates are dropped
// keeping first-seen order. The result may be empty but never nil.
func ExtractSources(content string, citations []string) []string {
	sources := make([]string, 0, len(citations))
	seen := make(map[string]bool)

	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		sources = append(sources, s)
	}

	for _, c := range citations {
		add(c)
	}

	for _, m := range markdownLinkRe.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}

	// Strip markdown links before scanning for bare URLs so link targets are
	// not double counted.
	stripped := markdownLinkRe.ReplaceAllString(content, "")
	for _, u := range bareURLRe.FindAllString(stripped, -1) {
		add(u)
	}

	// Numeric markers like [3] reference provider citations by position.
	// They only become labels of their own when nothing else was found.
	if len(sources) == 0 {
		for _, m := range citationRe.FindAllStringSubmatch(content, -1) {
			add("citation " + m[1])
		}
	}

	return sources
}
