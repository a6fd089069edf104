package indexer

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/lspdaemon/lspd/internal/symbol"
)

// ExtractedSymbol is one symbol found in a file, prior to UID assignment.
type ExtractedSymbol struct {
	Name string
	Kind string
	Line int
}

// Extractor turns file content into a flat list of symbols. Language
// servers (via pool) supply the richer cross-reference edges afterward;
// extraction only needs to find declaration sites.
type Extractor interface {
	Extract(content []byte) []ExtractedSymbol
}

// ExtractorFor returns the best available Extractor for a language,
// falling back to a line-oriented syntactic scan when no tree-sitter
// grammar is wired for that language.
func ExtractorFor(language string) Extractor {
	switch language {
	case "go":
		return goExtractor{}
	default:
		return fallbackExtractor{}
	}
}

// goExtractor parses Go source with tree-sitter, grounded on the same
// grammar and traversal style used elsewhere for richer analysis: walk
// the tree, pick out declaration node types, and read out their name
// field and starting line.
type goExtractor struct{}

func (goExtractor) Extract(content []byte) []ExtractedSymbol {
	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil || tree == nil {
		return fallbackExtractor{}.Extract(content)
	}
	defer tree.Close()

	var out []ExtractedSymbol
	walkGo(tree.RootNode(), content, &out)
	return out
}

func walkGo(node *sitter.Node, content []byte, out *[]ExtractedSymbol) {
	if node == nil {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}

		switch child.Type() {
		case "function_declaration", "method_declaration":
			if nameNode := child.ChildByFieldName("name"); nameNode != nil {
				kind := "func"
				if child.Type() == "method_declaration" {
					kind = "method"
				}
				*out = append(*out, ExtractedSymbol{
					Name: nameNode.Content(content),
					Kind: kind,
					Line: int(child.StartPoint().Row) + 1,
				})
			}
		case "type_declaration":
			for j := 0; j < int(child.ChildCount()); j++ {
				spec := child.Child(j)
				if spec == nil || spec.Type() != "type_spec" {
					continue
				}
				if nameNode := spec.ChildByFieldName("name"); nameNode != nil {
					*out = append(*out, ExtractedSymbol{
						Name: nameNode.Content(content),
						Kind: "type",
						Line: int(spec.StartPoint().Row) + 1,
					})
				}
			}
		}

		walkGo(child, content, out)
	}
}

// fallbackExtractor applies a language-agnostic syntactic heuristic when
// no tree-sitter grammar is available for a file's language: it looks for
// lines that read like a declaration keyword followed by an identifier.
// This finds considerably less than a real grammar, but keeps discovery
// and enrichment working for every language the daemon is configured for,
// not just the ones with a wired grammar.
type fallbackExtractor struct{}

var fallbackDeclPattern = regexp.MustCompile(
	`^\s*(?:export\s+)?(?:public\s+|private\s+|protected\s+|static\s+|async\s+)*` +
		`(?:func|function|def|fn|class|struct|interface|type|impl)\s+([A-Za-z_][A-Za-z0-9_]*)`)

func (fallbackExtractor) Extract(content []byte) []ExtractedSymbol {
	var out []ExtractedSymbol
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		m := fallbackDeclPattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		out = append(out, ExtractedSymbol{
			Name: m[1],
			Kind: classifyFallbackKind(text),
			Line: line,
		})
	}
	return out
}

func classifyFallbackKind(text string) string {
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.Contains(trimmed, "class "):
		return "class"
	case strings.Contains(trimmed, "interface "):
		return "interface"
	case strings.Contains(trimmed, "struct "):
		return "struct"
	case strings.Contains(trimmed, "type "):
		return "type"
	default:
		return "func"
	}
}

// BuildUID assigns a canonical symbol UID to an extracted symbol given the
// containing file's path (workspace-relative) and content.
func BuildUID(relPath string, content []byte, sym ExtractedSymbol) string {
	hash := symbol.ContentHash(content)
	return symbol.BuildUID(relPath, hash, sym.Name, sym.Line)
}
