package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/lspdaemon/lspd/internal/audit"
	"github.com/lspdaemon/lspd/internal/symbol"
)

// Symbol is one row of the symbols table.
type Symbol struct {
	UID         string
	WorkspaceID string
	Path        string
	Name        string
	Kind        string
	Line        int
	ContentMD5  string
}

// Edge is one cross-reference between two symbol UIDs.
type Edge struct {
	WorkspaceID string
	SourceUID   string
	TargetUID   string
	Relation    string
	StartLine   int
	StartChar   int
}

// emptyTargetSentinel marks an edge recording "this operation was run
// against source_uid and legitimately found nothing", so a cache miss can
// be distinguished from "we never asked". Using a reserved sentinel value
// here (rather than writing a NULL target_uid) keeps the edges table's
// UNIQUE constraint meaningful, since sqlite treats every NULL as distinct
// for uniqueness purposes and would otherwise let duplicate empty-answer
// rows pile up.
const emptyTargetSentinel = "EXTERNAL:__empty__"

// UpsertSymbol inserts or replaces a symbol row.
func (s *Store) UpsertSymbol(ctx context.Context, sym Symbol) error {
	if sym.Line <= 0 {
		audit.Inc(audit.CodeZeroLine)
	}
	if strings.HasPrefix(sym.Path, "/") {
		audit.Inc(audit.CodeAbsPath)
	}
	auditSymbolUID(sym)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO symbols (uid, workspace_id, path, name, kind, line, content_md5)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			path=excluded.path, name=excluded.name, kind=excluded.kind,
			line=excluded.line, content_md5=excluded.content_md5
	`, sym.UID, sym.WorkspaceID, sym.Path, sym.Name, sym.Kind, sym.Line, sym.ContentMD5)
	return err
}

// auditSymbolUID cross-checks a symbol's UID against the path and line it
// is being persisted with, catching a UID built from stale coordinates
// before it can corrupt later lookups.
func auditSymbolUID(sym Symbol) {
	if symbol.IsReservedUID(sym.UID) {
		return
	}
	path, _, _, line, ok := symbol.SplitUID(sym.UID)
	if !ok {
		audit.Inc(audit.CodeMalformedUID)
		return
	}
	if path != sym.Path {
		audit.Inc(audit.CodeUIDPathMismatch)
	}
	if line != sym.Line {
		audit.Inc(audit.CodeLineMismatch)
	}
}

// auditEdgeUID flags a non-sentinel edge endpoint UID that is malformed, or
// whose embedded path is absolute-looking without being one of the
// canonical /dep/... dependency forms, the common symptom of a UID that
// escaped classify-or-relativize normalization.
func auditEdgeUID(uid string) {
	if symbol.IsReservedUID(uid) || uid == emptyTargetSentinel {
		return
	}
	path, _, _, _, ok := symbol.SplitUID(uid)
	if !ok {
		audit.Inc(audit.CodeMalformedUID)
		return
	}
	if symbol.IsAbsoluteLike(path) && !strings.HasPrefix(path, "/dep/") {
		audit.Inc(audit.CodeNonRelativeFile)
	}
}

// SymbolByUID fetches a symbol, returning (Symbol{}, false, nil) if absent.
func (s *Store) SymbolByUID(ctx context.Context, uid string) (Symbol, bool, error) {
	var sym Symbol
	row := s.db.QueryRowContext(ctx, `
		SELECT uid, workspace_id, path, name, kind, line, content_md5
		FROM symbols WHERE uid = ?`, uid)
	if err := row.Scan(&sym.UID, &sym.WorkspaceID, &sym.Path, &sym.Name, &sym.Kind, &sym.Line, &sym.ContentMD5); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return Symbol{}, false, nil
		}
		return Symbol{}, false, err
	}
	return sym, true, nil
}

// InsertEdge records a cross-reference edge, tolerating duplicates via
// INSERT OR IGNORE on the table's unique index. Self loops and edges with an
// empty endpoint are rejected and counted, since a malformed edge here
// would otherwise corrupt later traversal results. A negative start line is
// counted and stored as 0, and endpoint UID anomalies are counted but the
// edge is still inserted.
func (s *Store) InsertEdge(ctx context.Context, e Edge) error {
	if e.SourceUID == e.TargetUID {
		audit.Inc(audit.CodeSelfLoop)
		return fmt.Errorf("store: refusing self-loop edge for %s", e.SourceUID)
	}
	if e.SourceUID == "" {
		audit.Inc(audit.CodeOrphanSource)
		return fmt.Errorf("store: refusing edge with empty source")
	}
	if e.TargetUID == "" {
		audit.Inc(audit.CodeOrphanTarget)
		return fmt.Errorf("store: refusing edge with empty target")
	}
	if e.StartLine < 0 {
		audit.Inc(audit.CodeZeroLine)
		e.StartLine = 0
	}
	auditEdgeUID(e.SourceUID)
	auditEdgeUID(e.TargetUID)

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO edges
			(workspace_id, source_uid, target_uid, relation, start_line, start_char)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.WorkspaceID, e.SourceUID, e.TargetUID, e.Relation, e.StartLine, e.StartChar)
	return err
}

// MarkEmpty records that relation was already evaluated for sourceUID and
// genuinely produced no edges, so future lookups can skip re-querying the
// language server for a known-empty answer.
func (s *Store) MarkEmpty(ctx context.Context, workspaceID, sourceUID, relation string) error {
	return s.InsertEdge(ctx, Edge{
		WorkspaceID: workspaceID,
		SourceUID:   sourceUID,
		TargetUID:   emptyTargetSentinel,
		Relation:    relation,
	})
}

// IsMarkedEmpty reports whether MarkEmpty was previously recorded for this
// (sourceUID, relation) pair.
func (s *Store) IsMarkedEmpty(ctx context.Context, workspaceID, sourceUID, relation string) (bool, error) {
	var count int
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM edges
		WHERE workspace_id = ? AND source_uid = ? AND relation = ? AND target_uid = ?
	`, workspaceID, sourceUID, relation, emptyTargetSentinel)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// EdgesFrom returns every non-sentinel edge with the given source and
// relation.
func (s *Store) EdgesFrom(ctx context.Context, workspaceID, sourceUID, relation string) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace_id, source_uid, target_uid, relation, start_line, start_char
		FROM edges
		WHERE workspace_id = ? AND source_uid = ? AND relation = ? AND target_uid != ?
	`, workspaceID, sourceUID, relation, emptyTargetSentinel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.WorkspaceID, &e.SourceUID, &e.TargetUID, &e.Relation, &e.StartLine, &e.StartChar); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// pendingEnrichmentKinds restricts the pending-enrichment query to symbol
// kinds the language server can meaningfully answer references/
// implementations/call-hierarchy for; enriching a struct field or a
// package-level const would just round-trip into an empty sentinel.
var pendingEnrichmentKinds = []string{"func", "method"}

// PendingEnrichment returns up to limit symbols in workspaceID for which at
// least one of {references, implementations, call_hierarchy} is satisfied
// by neither a real edge nor a sentinel, the query that drives Stage D's
// background enrichment pass. Result size is capped per call so a large
// workspace's backlog doesn't stall the caller in one round trip.
func (s *Store) PendingEnrichment(ctx context.Context, workspaceID string, limit int) ([]Symbol, error) {
	if limit <= 0 {
		limit = 200
	}

	placeholders := make([]string, len(pendingEnrichmentKinds))
	args := make([]any, 0, len(pendingEnrichmentKinds)+2)
	args = append(args, workspaceID)
	for i, k := range pendingEnrichmentKinds {
		placeholders[i] = "?"
		args = append(args, k)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT uid, workspace_id, path, name, kind, line, content_md5
		FROM symbols
		WHERE workspace_id = ?
		  AND kind IN (%s)
		  AND (
		    NOT EXISTS (SELECT 1 FROM edges e WHERE e.workspace_id = symbols.workspace_id AND e.source_uid = symbols.uid AND e.relation = 'references')
		    OR NOT EXISTS (SELECT 1 FROM edges e WHERE e.workspace_id = symbols.workspace_id AND e.source_uid = symbols.uid AND e.relation = 'implementations')
		    OR NOT EXISTS (SELECT 1 FROM edges e WHERE e.workspace_id = symbols.workspace_id AND e.source_uid = symbols.uid AND e.relation = 'call_hierarchy')
		  )
		LIMIT ?
	`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Symbol
	for rows.Next() {
		var sym Symbol
		if err := rows.Scan(&sym.UID, &sym.WorkspaceID, &sym.Path, &sym.Name, &sym.Kind, &sym.Line, &sym.ContentMD5); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// EdgesTo returns every edge pointing at targetUID for the given relation,
// used to answer "who calls this" / "who references this" queries.
func (s *Store) EdgesTo(ctx context.Context, workspaceID, targetUID, relation string) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace_id, source_uid, target_uid, relation, start_line, start_char
		FROM edges
		WHERE workspace_id = ? AND target_uid = ? AND relation = ?
	`, workspaceID, targetUID, relation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.WorkspaceID, &e.SourceUID, &e.TargetUID, &e.Relation, &e.StartLine, &e.StartChar); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
