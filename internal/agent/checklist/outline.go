package checklist

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// BlockKind classifies a top-level markdown block.
type BlockKind int

const (
	KindParagraph BlockKind = iota
	KindHeading
	KindList
	KindCode
	KindRule
	KindQuote
	KindTable
	KindOther
)

// Block is one top-level block of an article.
type Block struct {
	Kind  BlockKind
	Level int
	// Text is the heading text without markup, the code of a code block, or
	// the inline source lines of anything else.
	Text  string
	Items int
	Tasks int
	Done  int
	Links int
}

// Lines splits the block text into lines.
func (b Block) Lines() []string { return strings.Split(b.Text, "\n") }

// Outline is an article parsed into its top-level blocks.
type Outline struct {
	Blocks []Block
}

var mdParser = goldmark.New(goldmark.WithExtensions(extension.GFM)).Parser()

// Parse reads content as GitHub flavoured markdown.
func Parse(content string) Outline {
	source := []byte(content)
	doc := mdParser.Parse(text.NewReader(source))
	var o Outline
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		o.Blocks = append(o.Blocks, newBlock(n, source))
	}
	return o
}

// Title is the text of the first level-1 heading.
func (o Outline) Title() string {
	for _, b := range o.Blocks {
		if b.Kind == KindHeading && b.Level == 1 {
			return b.Text
		}
	}
	return ""
}

// Headings returns the texts of all headings at level.
func (o Outline) Headings(level int) []string {
	var out []string
	for _, b := range o.Blocks {
		if b.Kind == KindHeading && b.Level == level {
			out = append(out, b.Text)
		}
	}
	return out
}

// FirstParagraph is the first prose block.
func (o Outline) FirstParagraph() string {
	for _, b := range o.Blocks {
		if b.Kind == KindParagraph {
			return b.Text
		}
	}
	return ""
}

// Section returns the blocks after the heading at index i, up to the next
// heading of the same or a higher level. A rule also ends the section.
func (o Outline) Section(i int) []Block {
	level := o.Blocks[i].Level
	var out []Block
	for _, b := range o.Blocks[i+1:] {
		if b.Kind == KindRule || (b.Kind == KindHeading && b.Level <= level) {
			break
		}
		out = append(out, b)
	}
	return out
}

// Prose returns every non-code line with heading texts included.
func (o Outline) Prose() []string {
	var out []string
	for _, b := range o.Blocks {
		if b.Kind == KindCode {
			continue
		}
		out = append(out, b.Lines()...)
	}
	return out
}

func newBlock(n ast.Node, source []byte) Block {
	b := Block{Kind: KindOther}
	switch node := n.(type) {
	case *ast.Heading:
		b.Kind, b.Level = KindHeading, node.Level
		b.Text = inlineText(node, source)
		return b
	case *ast.Paragraph:
		b.Kind = KindParagraph
	case *ast.List:
		b.Kind = KindList
		b.Items = node.ChildCount()
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		b.Kind = KindCode
		b.Text = lineText(n, source)
		return b
	case *ast.ThematicBreak:
		b.Kind = KindRule
		return b
	case *ast.Blockquote:
		b.Kind = KindQuote
	case *east.Table:
		b.Kind = KindTable
	}
	b.Text = sourceText(n, source)
	if b.Text == "" {
		b.Text = inlineText(n, source)
	}
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Link, *ast.AutoLink:
			b.Links++
		case *east.TaskCheckBox:
			if t.IsChecked {
				b.Done++
			} else {
				b.Tasks++
			}
		}
		return ast.WalkContinue, nil
	})
	return b
}

// sourceText joins the raw lines of the leaf blocks under n.
func sourceText(n ast.Node, source []byte) string {
	var parts []string
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || c.Type() != ast.TypeBlock {
			return ast.WalkContinue, nil
		}
		switch c.Kind() {
		case ast.KindParagraph, ast.KindTextBlock, ast.KindHeading, ast.KindFencedCodeBlock, ast.KindCodeBlock, ast.KindHTMLBlock:
			parts = append(parts, lineText(c, source))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func lineText(n ast.Node, source []byte) string {
	lines := n.Lines()
	parts := make([]string, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		parts = append(parts, strings.TrimRight(string(seg.Value(source)), "\r\n"))
	}
	return strings.Join(parts, "\n")
}

func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
