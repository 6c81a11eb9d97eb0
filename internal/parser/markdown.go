package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/harrison/deploypilot/internal/models"
)

// Markdown recommendation documents use one level-2 heading per
// recommendation:
//
//	## REC-001: Add retry to webhook sender
//
//	- Depends on: REC-000
//	- Priority: 3
//	- Target: internal/webhook/sender.go
//
//	Free-form description, carried as the payload.
var headingRegex = regexp.MustCompile(`^([A-Za-z0-9_.-]+):\s+(.+)$`)

// ParseMarkdown extracts recommendations from a Markdown document by
// walking the goldmark AST.
func ParseMarkdown(data []byte) ([]models.Recommendation, error) {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(data))

	var recs []models.Recommendation
	var current *models.Recommendation
	var body strings.Builder

	flush := func() error {
		if current == nil {
			return nil
		}
		if desc := strings.TrimSpace(body.String()); desc != "" {
			if current.Payload == nil {
				current.Payload = make(map[string]any)
			}
			current.Payload["description"] = desc
		}
		if err := current.Validate(); err != nil {
			return err
		}
		recs = append(recs, *current)
		current = nil
		body.Reset()
		return nil
	}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			if node.Level != 2 {
				return ast.WalkContinue, nil
			}
			if err := flush(); err != nil {
				return ast.WalkStop, err
			}

			title := string(headingText(node, data))
			m := headingRegex.FindStringSubmatch(title)
			if m == nil {
				// Not a recommendation heading; skip the section.
				return ast.WalkContinue, nil
			}
			current = &models.Recommendation{ID: m[1], Title: strings.TrimSpace(m[2])}
			return ast.WalkSkipChildren, nil

		case *ast.ListItem:
			if current == nil {
				return ast.WalkContinue, nil
			}
			line := strings.TrimSpace(string(nodeText(node, data)))
			if consumed, err := applyMetadata(current, line); err != nil {
				return ast.WalkStop, fmt.Errorf("recommendation %s: %w", current.ID, err)
			} else if consumed {
				return ast.WalkSkipChildren, nil
			}
			return ast.WalkContinue, nil

		case *ast.Paragraph:
			if current == nil || node.Parent().Kind() == ast.KindListItem {
				return ast.WalkContinue, nil
			}
			if body.Len() > 0 {
				body.WriteString("\n\n")
			}
			body.Write(nodeText(node, data))
			return ast.WalkSkipChildren, nil
		}

		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if len(recs) == 0 {
		return nil, fmt.Errorf("no recommendation sections found")
	}
	return recs, nil
}

// applyMetadata interprets a "Key: value" list item. Unknown keys are
// left for the payload body.
func applyMetadata(rec *models.Recommendation, line string) (bool, error) {
	key, value, found := strings.Cut(line, ":")
	if !found {
		return false, nil
	}
	value = strings.TrimSpace(value)

	switch strings.ToLower(strings.TrimSpace(key)) {
	case "depends on", "depends_on":
		for _, dep := range strings.Split(value, ",") {
			if dep = strings.TrimSpace(dep); dep != "" {
				rec.DependsOn = append(rec.DependsOn, dep)
			}
		}
		return true, nil
	case "priority":
		p, err := strconv.Atoi(value)
		if err != nil {
			return false, fmt.Errorf("invalid priority %q", value)
		}
		rec.Priority = p
		return true, nil
	case "target":
		rec.TargetHint = value
		return true, nil
	}
	return false, nil
}

// headingText returns the raw text of a heading node.
func headingText(heading *ast.Heading, source []byte) []byte {
	var sb strings.Builder
	for c := heading.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
		}
	}
	return []byte(sb.String())
}

// nodeText collects the text content beneath a node.
func nodeText(n ast.Node, source []byte) []byte {
	var sb strings.Builder
	ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) { //nolint:errcheck
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := child.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return []byte(sb.String())
}
