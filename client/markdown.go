package client

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// CodeBlock is a fenced code block lifted out of an assistant answer so the
// copy affordance can grab the code without the surrounding prose.
type CodeBlock struct {
	Language string
	Code     string
}

var markdownParser = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ExtractCodeBlocks parses markdown and returns its fenced code blocks in
// document order. Indented code blocks are included with an empty language.
func ExtractCodeBlocks(markdown string) []CodeBlock {
	source := []byte(markdown)
	root := markdownParser.Parser().Parse(text.NewReader(source))

	var blocks []CodeBlock
	_ = ast.Walk(root, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch block := node.(type) {
		case *ast.FencedCodeBlock:
			blocks = append(blocks, CodeBlock{
				Language: string(block.Language(source)),
				Code:     blockText(block, source),
			})
		case *ast.CodeBlock:
			blocks = append(blocks, CodeBlock{Code: blockText(block, source)})
		}
		return ast.WalkContinue, nil
	})
	return blocks
}

// RenderHTML converts a markdown answer to HTML for display.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := markdownParser.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func blockText(node ast.Node, source []byte) string {
	var buf bytes.Buffer
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		buf.Write(segment.Value(source))
	}
	return buf.String()
}
