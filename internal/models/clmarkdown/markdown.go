package clmarkdown

import (
	"bytes"
	"html/template"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	stripmd "github.com/writeas/go-strip-markdown"
	"github.com/yuin/goldmark"
	emoji "github.com/yuin/goldmark-emoji"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

type externalLinkTransformer struct{}

var (
	md     goldmark.Markdown
	mdOnce sync.Once
)

// Convertisseur des commentaires visiteurs : le HTML brut est omis, les
// liens sortent du site sans transmettre de réputation
func commentMarkdown() goldmark.Markdown {
	mdOnce.Do(func() {
		md = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				emoji.Emoji,
			),
			goldmark.WithParserOptions(
				parser.WithASTTransformers(
					util.Prioritized(&externalLinkTransformer{}, 100),
				),
			),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithXHTML(),
			),
		)
	})
	return md
}

// RenderComment convertit le markdown d'un commentaire en HTML sûr
func RenderComment(markdown string) template.HTML {
	var buf bytes.Buffer
	if err := commentMarkdown().Convert([]byte(markdown), &buf); err != nil {
		log.Error().Err(err).Msg("Erreur conversion Markdown")
		return template.HTML("<pre>" + template.HTMLEscapeString(markdown) + "</pre>")
	}
	return template.HTML(buf.String())
}

// PlainText retire la syntaxe markdown d'un titre de page
func PlainText(s string) string {
	return strings.Join(strings.Fields(stripmd.Strip(s)), " ")
}

func (t *externalLinkTransformer) Transform(node *ast.Document, reader text.Reader, pc parser.Context) {
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch n.(type) {
		case *ast.Link, *ast.AutoLink:
			n.SetAttributeString("target", []byte("_blank"))
			n.SetAttributeString("rel", []byte("nofollow ugc noopener"))
		}

		return ast.WalkContinue, nil
	})
}
