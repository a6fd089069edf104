package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lspdaemon/lspd/internal/lspclient"
	"github.com/lspdaemon/lspd/internal/pool"
	"github.com/lspdaemon/lspd/internal/store"
	"github.com/lspdaemon/lspd/internal/symbol"
)

// LanguageDetector maps a relative file path to the language id the pool
// should use for it, or "" if the file isn't indexable.
type LanguageDetector func(path string) string

// Pipeline drives discovery, extraction, and persistence for one
// workspace, with enrichment delegated to the language-server pool.
type Pipeline struct {
	Store         *store.Store
	Pool          *pool.Pool
	WorkspaceID   string
	WorkspaceRoot string
	DetectLang    LanguageDetector
	IgnoreGlobs   []string
	Concurrency   int
	Log           *zap.Logger
}

// FullScan discovers every file under the workspace root, skips files
// whose content hash matches what's already recorded, and (re)indexes the
// rest with bounded concurrency across files.
func (p *Pipeline) FullScan(ctx context.Context) error {
	files, err := Discover(p.WorkspaceRoot, p.IgnoreGlobs)
	if err != nil {
		return fmt.Errorf("indexer: discover: %w", err)
	}

	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	started := time.Now()
	for _, rel := range files {
		rel := rel
		g.Go(func() error {
			return p.indexFile(gctx, rel)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if p.Pool != nil {
		if err := p.EnrichPending(ctx, pendingEnrichmentBatchSize); err != nil {
			p.logIndexError("enrich pending", err)
		}
	}

	if p.Log != nil {
		p.Log.Debug("full scan complete",
			zap.String("workspace", p.WorkspaceRoot),
			zap.String("files", humanize.Comma(int64(len(files)))),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
	return nil
}

// indexFile extracts and persists symbols for one file, skipping work
// entirely when the file's content hash already matches the last indexed
// version.
func (p *Pipeline) indexFile(ctx context.Context, relPath string) error {
	lang := ""
	if p.DetectLang != nil {
		lang = p.DetectLang(relPath)
	}
	if lang == "" {
		return nil
	}

	absPath := filepath.Join(p.WorkspaceRoot, relPath)
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil // file vanished between discovery and read; not fatal
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil
	}

	hash := symbol.ContentHash(content)

	existing, ok, err := p.Store.FileVersionByPath(ctx, p.WorkspaceID, relPath)
	if err != nil {
		return err
	}
	if ok && existing.ContentMD5 == hash {
		return nil
	}

	if err := p.Store.DeleteFile(ctx, p.WorkspaceID, relPath); err != nil {
		return fmt.Errorf("indexer: clear stale state for %s: %w", relPath, err)
	}

	extracted := ExtractorFor(lang).Extract(content)
	for _, sym := range extracted {
		uid := BuildUID(relPath, content, sym)
		if err := p.Store.UpsertSymbol(ctx, store.Symbol{
			UID: uid, WorkspaceID: p.WorkspaceID, Path: relPath,
			Name: sym.Name, Kind: sym.Kind, Line: sym.Line, ContentMD5: hash,
		}); err != nil {
			return fmt.Errorf("indexer: persist symbol %s: %w", sym.Name, err)
		}

		if p.Pool != nil && (sym.Kind == "func" || sym.Kind == "method") {
			if err := p.EnrichDefinition(ctx, uid, lang, relPath, sym.Line, 0); err != nil {
				p.logIndexError("enrich definition", err)
			}
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	return p.Store.UpsertFileVersion(ctx, store.FileVersion{
		WorkspaceID: p.WorkspaceID, Path: relPath, ContentMD5: hash,
		Size: info.Size(), Mtime: info.ModTime().UTC().Format(time.RFC3339),
		IndexedAt: now, Language: lang,
	})
}

// Relation names for the edges this pipeline records, shared with the
// pending-enrichment query so the store and the enrichers agree on what
// "satisfied" means for a given symbol.
const (
	RelationDefinition     = "definition"
	RelationReferences     = "references"
	RelationImplementation = "implementations"
	RelationCallHierarchy  = "call_hierarchy"
)

// pendingEnrichmentBatchSize bounds how many symbols one EnrichPending call
// pulls from the store per full scan, so a large backlog is worked down
// incrementally instead of in one unbounded round trip.
const pendingEnrichmentBatchSize = 200

// EnrichDefinition asks the language server pool for the definition of a
// symbol and records it as an edge if found, or as a known-empty answer
// otherwise, so a later repeat query doesn't re-hit the language server.
func (p *Pipeline) EnrichDefinition(ctx context.Context, sourceUID, language, relPath string, line, column int) error {
	return p.enrichLocations(ctx, sourceUID, language, relPath, line, column, RelationDefinition, "textDocument/definition", nil)
}

// EnrichReferences asks the language server pool for every reference to a
// symbol and records them as edges, or a sentinel if the symbol genuinely
// has none.
func (p *Pipeline) EnrichReferences(ctx context.Context, sourceUID, language, relPath string, line, column int) error {
	extra := map[string]any{"context": map[string]any{"includeDeclaration": false}}
	return p.enrichLocations(ctx, sourceUID, language, relPath, line, column, RelationReferences, "textDocument/references", extra)
}

// EnrichImplementations asks the language server pool for every
// implementation of a symbol (e.g. concrete types satisfying an interface)
// and records them as edges, or a sentinel if there are none.
func (p *Pipeline) EnrichImplementations(ctx context.Context, sourceUID, language, relPath string, line, column int) error {
	return p.enrichLocations(ctx, sourceUID, language, relPath, line, column, RelationImplementation, "textDocument/implementation", nil)
}

// enrichLocations is the shared body behind the location-returning
// enrichers: skip work already answered, issue the LSP call, and persist
// either real edges or a sentinel for an empty answer.
func (p *Pipeline) enrichLocations(ctx context.Context, sourceUID, language, relPath string, line, column int, relation, method string, extraParams map[string]any) error {
	if marked, err := p.Store.IsMarkedEmpty(ctx, p.WorkspaceID, sourceUID, relation); err != nil {
		return err
	} else if marked {
		return nil
	}

	params := map[string]any{
		"textDocument": map[string]any{"uri": "file://" + filepath.Join(p.WorkspaceRoot, relPath)},
		"position":     map[string]any{"line": line - 1, "character": column},
	}
	for k, v := range extraParams {
		params[k] = v
	}

	raw, err := p.Pool.Call(ctx, language, p.WorkspaceRoot, method, params)
	if err != nil {
		return err
	}

	locations, err := lspclient.ParseLocations(raw)
	if err != nil {
		return err
	}
	if len(locations) == 0 {
		return p.Store.MarkEmpty(ctx, p.WorkspaceID, sourceUID, relation)
	}

	for _, loc := range locations {
		targetUID := p.uidForLocation(ctx, loc)
		if targetUID == "" {
			continue
		}
		if err := p.Store.InsertEdge(ctx, store.Edge{
			WorkspaceID: p.WorkspaceID, SourceUID: sourceUID, TargetUID: targetUID,
			Relation: relation, StartLine: line, StartChar: column,
		}); err != nil {
			p.logIndexError("insert "+relation+" edge", err)
		}
	}
	return nil
}

// callHierarchyItem is the subset of textDocument/prepareCallHierarchy's
// response this pipeline needs to pivot into the direction-specific call.
type callHierarchyItem struct {
	Name  string          `json:"name"`
	URI   string          `json:"uri"`
	Range lspclient.Range `json:"range"`
}

type callHierarchyEdge struct {
	From callHierarchyItem `json:"from"`
	To   callHierarchyItem `json:"to"`
}

// EnrichCallHierarchy prepares the call hierarchy item at (relPath, line,
// column) and records its incoming callers as call_hierarchy edges (or a
// sentinel when the symbol has none), so the stored graph answers
// call-hierarchy queries without a repeat round-trip to the language
// server.
func (p *Pipeline) EnrichCallHierarchy(ctx context.Context, sourceUID, language, relPath string, line, column int) error {
	if marked, err := p.Store.IsMarkedEmpty(ctx, p.WorkspaceID, sourceUID, RelationCallHierarchy); err != nil {
		return err
	} else if marked {
		return nil
	}

	prepared, err := p.Pool.Call(ctx, language, p.WorkspaceRoot, "textDocument/prepareCallHierarchy", map[string]any{
		"textDocument": map[string]any{"uri": "file://" + filepath.Join(p.WorkspaceRoot, relPath)},
		"position":     map[string]any{"line": line - 1, "character": column},
	})
	if err != nil {
		return err
	}

	var items []callHierarchyItem
	if err := json.Unmarshal(prepared, &items); err != nil || len(items) == 0 {
		return p.Store.MarkEmpty(ctx, p.WorkspaceID, sourceUID, RelationCallHierarchy)
	}

	raw, err := p.Pool.Call(ctx, language, p.WorkspaceRoot, "callHierarchy/incomingCalls", map[string]any{"item": items[0]})
	if err != nil {
		return err
	}

	var edges []callHierarchyEdge
	if err := json.Unmarshal(raw, &edges); err != nil {
		return fmt.Errorf("indexer: decode incoming calls: %w", err)
	}
	if len(edges) == 0 {
		return p.Store.MarkEmpty(ctx, p.WorkspaceID, sourceUID, RelationCallHierarchy)
	}

	for _, e := range edges {
		targetUID := p.uidForLocation(ctx, lspclient.Location{URI: e.From.URI, Range: e.From.Range})
		if targetUID == "" {
			continue
		}
		if err := p.Store.InsertEdge(ctx, store.Edge{
			WorkspaceID: p.WorkspaceID, SourceUID: sourceUID, TargetUID: targetUID,
			Relation: RelationCallHierarchy, StartLine: line, StartChar: column,
		}); err != nil {
			p.logIndexError("insert call hierarchy edge", err)
		}
	}
	return nil
}

// EnrichPending draws up to limit symbols from the store's
// pending-enrichment query and fills in whichever of
// references/implementations/call-hierarchy each one is still missing, the
// background enrichment pass over symbols a full scan didn't enrich inline.
func (p *Pipeline) EnrichPending(ctx context.Context, limit int) error {
	if p.Pool == nil {
		return nil
	}

	pending, err := p.Store.PendingEnrichment(ctx, p.WorkspaceID, limit)
	if err != nil {
		return fmt.Errorf("indexer: pending enrichment query: %w", err)
	}

	for _, sym := range pending {
		lang := ""
		if p.DetectLang != nil {
			lang = p.DetectLang(sym.Path)
		}
		if lang == "" {
			continue
		}

		if satisfied, err := p.relationSatisfied(ctx, sym.UID, RelationReferences); err != nil {
			p.logIndexError("check references satisfied", err)
		} else if !satisfied {
			if err := p.EnrichReferences(ctx, sym.UID, lang, sym.Path, sym.Line, 0); err != nil {
				p.logIndexError("enrich references", err)
			}
		}

		if satisfied, err := p.relationSatisfied(ctx, sym.UID, RelationImplementation); err != nil {
			p.logIndexError("check implementations satisfied", err)
		} else if !satisfied {
			if err := p.EnrichImplementations(ctx, sym.UID, lang, sym.Path, sym.Line, 0); err != nil {
				p.logIndexError("enrich implementations", err)
			}
		}

		if satisfied, err := p.relationSatisfied(ctx, sym.UID, RelationCallHierarchy); err != nil {
			p.logIndexError("check call hierarchy satisfied", err)
		} else if !satisfied {
			if err := p.EnrichCallHierarchy(ctx, sym.UID, lang, sym.Path, sym.Line, 0); err != nil {
				p.logIndexError("enrich call hierarchy", err)
			}
		}
	}
	return nil
}

// relationSatisfied reports whether sourceUID already has a real edge or a
// sentinel for relation, so EnrichPending doesn't re-issue an LSP call a
// previous pass (or a concurrent indexFile definition enrichment) already
// answered.
func (p *Pipeline) relationSatisfied(ctx context.Context, sourceUID, relation string) (bool, error) {
	if marked, err := p.Store.IsMarkedEmpty(ctx, p.WorkspaceID, sourceUID, relation); err != nil {
		return false, err
	} else if marked {
		return true, nil
	}
	edges, err := p.Store.EdgesFrom(ctx, p.WorkspaceID, sourceUID, relation)
	if err != nil {
		return false, err
	}
	return len(edges) > 0, nil
}

func (p *Pipeline) uidForLocation(ctx context.Context, loc lspclient.Location) string {
	path, err := lspclient.URIToPath(loc.URI)
	if err != nil {
		return ""
	}

	pathComponent, ok := symbol.ClassifyDependencyPath(path)
	if !ok {
		rel, err := filepath.Rel(p.WorkspaceRoot, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return ""
		}
		pathComponent = filepath.ToSlash(rel)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return symbol.BuildUID(pathComponent, "", "", loc.Range.Start.Line+1)
	}
	hash := symbol.ContentHash(content)
	return symbol.BuildUID(pathComponent, hash, "", loc.Range.Start.Line+1)
}

func (p *Pipeline) logIndexError(msg string, err error) {
	if p.Log == nil {
		return
	}
	p.Log.Warn(msg, zap.Error(err))
}
