// Package checklist defines the required article sections. The draft stage
// hands the instructions to the model; the review stage detects them.
package checklist

import (
	"regexp"
	"strconv"
	"strings"
)

// Section is one required element of a finished article.
type Section struct {
	Key         string
	Name        string
	Instruction string
	detect      func(o Outline) bool
}

// Present reports whether content contains the section.
func (s Section) Present(content string) bool { return s.detect(Parse(content)) }

var (
	reConclusion  = regexp.MustCompile(`^\*\*Conclusion first\.\*\*`)
	reListLine    = regexp.MustCompile(`^\s*(?:[-*・]|\d+\.)\s+\S`)
	reTOC         = regexp.MustCompile(`(?i)^Table of contents$`)
	reBoxDrawing  = regexp.MustCompile(`[┌┐└┘├┤│─┬┴┼]`)
	reCause       = regexp.MustCompile(`(?i)^(?:\*\*)?Cause\s*([1-3①②③])`)
	reRoadmap     = regexp.MustCompile(`(?i)roadmap`)
	rePeriod      = regexp.MustCompile(`(?i)\b(?:week|day|month|quarter)\s*\d+|\b\d+\s*(?:weeks?|days?|months?)\b`)
	reAntiPattern = regexp.MustCompile(`Failure\s*([①②③])`)
	reCorner      = regexp.MustCompile(`\b(?:IT|DX)\b`)
	reReadNext    = regexp.MustCompile(`(?i)^Read next$`)
)

// Sections is the fixed checklist, in article order.
var Sections = []Section{
	{
		Key:         "hook",
		Name:        "Opening hook",
		Instruction: "Open with a 2-3 sentence hook about the reader's pain before the first ## heading.",
		detect:      hasHook,
	},
	{
		Key:         "conclusion_first",
		Name:        "Three-line conclusion",
		Instruction: "Right after the hook, a line `**Conclusion first.**` followed by exactly 3 bullet lines.",
		detect:      hasConclusionFirst,
	},
	{
		Key:         "table_of_contents",
		Name:        "Table of contents",
		Instruction: "A `## Table of contents` section listing the main headings.",
		detect: func(o Outline) bool {
			return headingIndex(o, 2, 2, reTOC) >= 0
		},
	},
	{
		Key:         "diagram",
		Name:        "Text diagram",
		Instruction: "One text diagram drawn with box characters (┌ ─ ┐ │ └ ┘) inside a code block.",
		detect: func(o Outline) bool {
			for _, b := range o.Blocks {
				if reBoxDrawing.MatchString(b.Text) {
					return true
				}
			}
			return false
		},
	},
	{
		Key:         "three_causes",
		Name:        "Three causes",
		Instruction: "A cause analysis with exactly three items labelled Cause 1, Cause 2, Cause 3.",
		detect: func(o Outline) bool {
			return distinctGroups(reCause, o.Prose()) >= 3
		},
	},
	{
		Key:         "roadmap",
		Name:        "Dated roadmap",
		Instruction: "A `## Roadmap` section whose steps carry periods (Week 1, Week 2-4, Month 2...).",
		detect: func(o Outline) bool {
			i := headingIndex(o, 2, 3, reRoadmap)
			if i < 0 {
				return false
			}
			periods := 0
			for _, b := range o.Section(i) {
				if b.Kind != KindCode {
					periods += len(rePeriod.FindAllString(b.Text, -1))
				}
			}
			return periods >= 2
		},
	},
	{
		Key:         "anti_patterns",
		Name:        "Anti-patterns",
		Instruction: "Two or three anti-patterns labelled Failure ①, Failure ②, Failure ③.",
		detect: func(o Outline) bool {
			return distinctGroups(reAntiPattern, o.Prose()) >= 2
		},
	},
	{
		Key:         "it_corner",
		Name:        "IT/DX corner",
		Instruction: "A short heading section on the IT/DX angle, with IT or DX in the heading.",
		detect: func(o Outline) bool {
			return headingIndex(o, 2, 3, reCorner) >= 0
		},
	},
	{
		Key:         "checklist",
		Name:        "Action checklist",
		Instruction: "A checklist of 5 to 7 items written as `- [ ] item`.",
		detect: func(o Outline) bool {
			n := 0
			for _, b := range o.Blocks {
				n += b.Tasks
			}
			return n >= 5 && n <= 7
		},
	},
	{
		Key:         "read_next",
		Name:        "Read next links",
		Instruction: "A `## Read next` section with two markdown links.",
		detect: func(o Outline) bool {
			i := headingIndex(o, 2, 2, reReadNext)
			if i < 0 {
				return false
			}
			links := 0
			for _, b := range o.Section(i) {
				links += b.Links
			}
			return links >= 2
		},
	},
	{
		Key:         "cta",
		Name:        "Call to action",
		Instruction: "End with a `---` rule followed by one restrained call to action sentence.",
		detect: func(o Outline) bool {
			last := -1
			for i, b := range o.Blocks {
				if b.Kind == KindRule {
					last = i
				}
			}
			if last < 0 {
				return false
			}
			for _, b := range o.Blocks[last+1:] {
				if b.Kind == KindParagraph && strings.TrimSpace(b.Text) != "" {
					return true
				}
			}
			return false
		},
	},
}

// Count is the number of required sections.
func Count() int { return len(Sections) }

// Detect splits the checklist into present and missing section names.
func Detect(content string) (present, missing []string) {
	return DetectOutline(Parse(content))
}

// DetectOutline is Detect on an already parsed article.
func DetectOutline(o Outline) (present, missing []string) {
	for _, s := range Sections {
		if s.detect(o) {
			present = append(present, s.Name)
		} else {
			missing = append(missing, s.Name)
		}
	}
	return present, missing
}

// Instructions renders the checklist as a numbered list for prompts.
func Instructions() string {
	var b strings.Builder
	for i, s := range Sections {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(s.Name)
		b.WriteString(": ")
		b.WriteString(s.Instruction)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// hasHook requires a prose paragraph ahead of the first level-2 heading and
// ahead of the conclusion-first marker.
func hasHook(o Outline) bool {
	for _, b := range o.Blocks {
		switch {
		case b.Kind == KindHeading && b.Level == 2:
			return false
		case b.Kind != KindParagraph:
			continue
		case reConclusion.MatchString(strings.TrimSpace(b.Lines()[0])):
			return false
		default:
			return true
		}
	}
	return false
}

// hasConclusionFirst finds the marker line and counts the bullets that follow
// it, inside the same paragraph or in the list right after.
func hasConclusionFirst(o Outline) bool {
	for i, b := range o.Blocks {
		if b.Kind != KindParagraph {
			continue
		}
		lines := b.Lines()
		for j, line := range lines {
			if !reConclusion.MatchString(strings.TrimSpace(line)) {
				continue
			}
			items := countListLines(lines[j+1:])
			if i+1 < len(o.Blocks) && o.Blocks[i+1].Kind == KindList {
				items += o.Blocks[i+1].Items
			}
			return items >= 3
		}
	}
	return false
}

// headingIndex returns the index of the first heading between levels lo and hi
// whose text matches re, or -1.
func headingIndex(o Outline, lo, hi int, re *regexp.Regexp) int {
	for i, b := range o.Blocks {
		if b.Kind == KindHeading && b.Level >= lo && b.Level <= hi && re.MatchString(b.Text) {
			return i
		}
	}
	return -1
}

func countListLines(lines []string) int {
	n := 0
	for _, line := range lines {
		if reListLine.MatchString(line) {
			n++
		}
	}
	return n
}

func distinctGroups(re *regexp.Regexp, lines []string) int {
	seen := map[string]struct{}{}
	for _, line := range lines {
		for _, m := range re.FindAllStringSubmatch(strings.TrimSpace(line), -1) {
			seen[normalizeOrdinal(m[1])] = struct{}{}
		}
	}
	return len(seen)
}

func normalizeOrdinal(s string) string {
	switch s {
	case "①":
		return "1"
	case "②":
		return "2"
	case "③":
		return "3"
	}
	return s
}
