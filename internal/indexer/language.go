package indexer

import "path/filepath"

// extensionToLanguage maps a file extension to the LSP language id the
// daemon's config keys its server pool by. Only languages a language
// server realistically exists for are included; anything else is treated
// as non-indexable.
var extensionToLanguage = map[string]string{
	".go":  "go",
	".js":  "javascript",
	".mjs": "javascript",
	".jsx": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",
	".py":  "python",
	".pyi": "python",
	".rs":  "rust",
	".java": "java",
	".c":   "c",
	".h":   "c",
	".cpp": "cpp",
	".cc":  "cpp",
	".hpp": "cpp",
	".cs":  "csharp",
	".rb":  "ruby",
}

// DetectLanguage returns the language id for relPath, or "" if the
// extension isn't recognized.
func DetectLanguage(relPath string) string {
	return extensionToLanguage[filepath.Ext(relPath)]
}
