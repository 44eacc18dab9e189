// Package parser reads a text's Markdown source: the optional pandoc YAML
// metadata block, headings, word count and referenced images.
package parser

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]any
	Body        string
	Title       string
	Headings    []string
	Words       int
	Paragraphs  int
	Images      []string
}

// Parse extracts the metadata block and document statistics from raw
// Markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, body := splitFrontmatter(data)

	src := []byte(body)
	root := goldmark.New().Parser().Parse(text.NewReader(src))

	res := &Result{Frontmatter: fm, Body: body}
	var firstH1 string
	err := gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *gmast.Heading:
			h := strings.TrimSpace(inlineText(node, src))
			res.Headings = append(res.Headings, h)
			if node.Level == 1 && firstH1 == "" {
				firstH1 = h
			}
		case *gmast.Paragraph:
			res.Paragraphs++
		case *gmast.Image:
			res.Images = append(res.Images, string(node.Destination))
		case *gmast.Text:
			res.Words += len(strings.Fields(string(node.Segment.Value(src))))
		case *gmast.String:
			res.Words += len(strings.Fields(string(node.Value)))
		}
		return gmast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}

	res.Title = deriveTitle(fm, firstH1)
	return res, nil
}

// splitFrontmatter separates a leading YAML block (between --- delimiters)
// from the Markdown body. Invalid YAML leaves everything in the body.
func splitFrontmatter(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data)
	}
	return fm, body
}

func inlineText(n gmast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *gmast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *gmast.String:
			b.Write(t.Value)
		default:
			b.WriteString(inlineText(c, src))
		}
	}
	return b.String()
}

// deriveTitle prefers the metadata block title, then the first H1.
func deriveTitle(fm map[string]any, firstH1 string) string {
	if fm != nil {
		if s, ok := fm["title"].(string); ok && s != "" {
			return s
		}
	}
	return firstH1
}
