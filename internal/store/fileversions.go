package store

import "context"

// FileVersion is one row of the file_versions table, recording the last
// indexed content hash for a path so the indexer can skip re-extracting
// files that have not changed since their last pass.
type FileVersion struct {
	WorkspaceID string
	Path        string
	ContentMD5  string
	Size        int64
	Mtime       string
	IndexedAt   string
	Language    string
}

// UpsertFileVersion records the latest indexed state of a file.
func (s *Store) UpsertFileVersion(ctx context.Context, fv FileVersion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_versions (workspace_id, path, content_md5, size, mtime, indexed_at, language)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, path) DO UPDATE SET
			content_md5=excluded.content_md5, size=excluded.size,
			mtime=excluded.mtime, indexed_at=excluded.indexed_at, language=excluded.language
	`, fv.WorkspaceID, fv.Path, fv.ContentMD5, fv.Size, fv.Mtime, fv.IndexedAt, fv.Language)
	return err
}

// FileVersionByPath returns the last recorded version for path, or
// (FileVersion{}, false, nil) if the file has never been indexed.
func (s *Store) FileVersionByPath(ctx context.Context, workspaceID, path string) (FileVersion, bool, error) {
	var fv FileVersion
	row := s.db.QueryRowContext(ctx, `
		SELECT workspace_id, path, content_md5, size, mtime, indexed_at, language
		FROM file_versions WHERE workspace_id = ? AND path = ?
	`, workspaceID, path)
	if err := row.Scan(&fv.WorkspaceID, &fv.Path, &fv.ContentMD5, &fv.Size, &fv.Mtime, &fv.IndexedAt, &fv.Language); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return FileVersion{}, false, nil
		}
		return FileVersion{}, false, err
	}
	return fv, true, nil
}

// DeleteFile removes a file's version record along with every symbol it
// produced, so a deleted source file doesn't leave stale entries behind.
func (s *Store) DeleteFile(ctx context.Context, workspaceID, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE workspace_id = ? AND path = ?`, workspaceID, path); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_versions WHERE workspace_id = ? AND path = ?`, workspaceID, path); err != nil {
		return err
	}
	return tx.Commit()
}
