package draft

import (
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/helpers"
)

// XPostLimit is the character cap for X posts.
const XPostLimit = 280

var (
	reListPrefix  = regexp.MustCompile(`^(?:\d+[.)、]|[-*・])\s*`)
	reDiagramHead = regexp.MustCompile(`(?i)^###\s*diagram\b`)
	reQuoted      = regexp.MustCompile(`^["「『](.*)["」』]$`)
)

// canonicalTerms rewrites spelling variants to one canonical form.
var canonicalTerms = []struct {
	re        *regexp.Regexp
	canonical string
}{
	{regexp.MustCompile(`(?i)\bSSOT\b`), "SSoT"},
}

// Canonicalize rewrites every known term variant, case-insensitively, to its
// canonical spelling. It is idempotent.
func Canonicalize(text string) string {
	if text == "" {
		return text
	}
	for _, t := range canonicalTerms {
		text = t.re.ReplaceAllString(text, t.canonical)
	}
	return text
}

// ParseTitles reads numbered or bulleted lines. It keeps at most n titles and
// returns fallback when none were found.
func ParseTitles(text string, n int, fallback string) []string {
	var titles []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !reListPrefix.MatchString(line) {
			continue
		}
		title := strings.TrimSpace(reListPrefix.ReplaceAllString(line, ""))
		title = strings.Trim(title, "*")
		if m := reQuoted.FindStringSubmatch(title); m != nil {
			title = m[1]
		}
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		titles = append(titles, title)
		if n > 0 && len(titles) == n {
			break
		}
	}
	if len(titles) == 0 {
		return []string{fallback}
	}
	return titles
}

// ParseImagePrompts splits text on "### Diagram" headings and keeps at most
// three briefs.
func ParseImagePrompts(text string) []string {
	var (
		prompts []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			prompts = append(prompts, strings.TrimSpace(strings.Join(current, "\n")))
		}
	}
	for _, line := range strings.Split(text, "\n") {
		switch {
		case reDiagramHead.MatchString(strings.TrimSpace(line)):
			flush()
			current = []string{line}
		case current != nil:
			current = append(current, line)
		}
	}
	flush()
	if len(prompts) > 3 {
		prompts = prompts[:3]
	}
	return prompts
}

// ParseSocialPosts reads the X and LinkedIn sections of text. The X post is
// joined into one line and capped at XPostLimit characters.
func ParseSocialPosts(text string) map[string]string {
	var (
		section  string
		x        []string
		linkedin []string
	)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		switch {
		case strings.Contains(lower, "linkedin") && (strings.HasPrefix(trimmed, "#") || strings.HasSuffix(trimmed, ":")):
			section = core.PlatformLinkedIn
		case (strings.Contains(lower, "x post") || strings.Contains(lower, "twitter")) && (strings.HasPrefix(trimmed, "#") || strings.HasSuffix(trimmed, ":")):
			section = core.PlatformX
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
		case section == core.PlatformX:
			x = append(x, trimmed)
		case section == core.PlatformLinkedIn:
			linkedin = append(linkedin, trimmed)
		}
	}
	return map[string]string{
		core.PlatformX:        helpers.Truncate(strings.Join(x, " "), XPostLimit),
		core.PlatformLinkedIn: strings.Join(linkedin, "\n"),
	}
}

// emptySocialPosts is the default when post generation fails.
func emptySocialPosts() map[string]string {
	return map[string]string{core.PlatformX: "", core.PlatformLinkedIn: ""}
}
