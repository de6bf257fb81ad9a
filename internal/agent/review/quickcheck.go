package review

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mohammad-safakhou/articleflow/internal/agent/checklist"
)

// Article length bounds, in characters.
const (
	MinChars = 2500
	MaxChars = 5000
)

var reBold = regexp.MustCompile(`\*\*[^*\n]+\*\*`)

var actionPhrases = []string{"this week", "action", "try", "checklist", "next step", "今週の一手", "アクション", "チェック"}

// QuickCheck is a model-free sanity check of a draft.
type QuickCheck struct {
	CharCount      int      `json:"char_count"`
	H2Count        int      `json:"h2_count"`
	H3Count        int      `json:"h3_count"`
	HasBold        bool     `json:"has_bold"`
	ChecklistItems int      `json:"checklist_items"`
	HasActionItem  bool     `json:"has_action_item"`
	PresentCount   int      `json:"present_sections"`
	Missing        []string `json:"missing_sections"`
	Issues         []string `json:"issues"`
	Pass           bool     `json:"quick_pass"`
}

// Check runs the quick check on content.
func Check(content string) QuickCheck {
	o := checklist.Parse(content)
	present, missing := checklist.DetectOutline(o)
	q := QuickCheck{
		CharCount:    utf8.RuneCountInString(content),
		H2Count:      len(o.Headings(2)),
		H3Count:      len(o.Headings(3)),
		HasBold:      reBold.MatchString(content),
		PresentCount: len(present),
		Missing:      missing,
		Issues:       []string{},
	}
	for _, b := range o.Blocks {
		q.ChecklistItems += b.Tasks + b.Done
	}
	lower := strings.ToLower(content)
	for _, p := range actionPhrases {
		if strings.Contains(lower, p) {
			q.HasActionItem = true
			break
		}
	}

	switch {
	case q.CharCount < MinChars:
		q.Issues = append(q.Issues, fmt.Sprintf("article may be too short (%d characters)", q.CharCount))
	case q.CharCount > MaxChars:
		q.Issues = append(q.Issues, fmt.Sprintf("article may be too long (%d characters)", q.CharCount))
	}
	if q.H2Count+q.H3Count < 3 {
		q.Issues = append(q.Issues, "too few headings")
	}
	if !q.HasActionItem {
		q.Issues = append(q.Issues, "no concrete action item")
	}
	if len(missing) > 0 {
		q.Issues = append(q.Issues, fmt.Sprintf("%d required sections missing", len(missing)))
	}
	q.Pass = len(q.Issues) == 0
	return q
}
