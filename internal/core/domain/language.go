package domain

import (
	"path/filepath"
	"strings"
)

var languageByExt = map[string]string{
	".go":     "go",
	".py":     "python",
	".js":     "javascript",
	".jsx":    "javascript",
	".mjs":    "javascript",
	".ts":     "typescript",
	".tsx":    "typescript",
	".rs":     "rust",
	".java":   "java",
	".kt":     "kotlin",
	".scala":  "scala",
	".c":      "c",
	".h":      "c",
	".cpp":    "cpp",
	".cc":     "cpp",
	".hpp":    "cpp",
	".cs":     "csharp",
	".rb":     "ruby",
	".php":    "php",
	".swift":  "swift",
	".sql":    "sql",
	".sh":     "shell",
	".bash":   "shell",
	".vue":    "vue",
	".svelte": "svelte",
	".md":     "markdown",
	".rst":    "restructuredtext",
	".txt":    "text",
	".html":   "html",
	".htm":    "html",
	".css":    "css",
	".scss":   "css",
	".json":   "json",
	".yaml":   "yaml",
	".yml":    "yaml",
	".toml":   "toml",
	".xml":    "xml",
}

var binaryExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".svg": true, ".webp": true, ".bmp": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true,
	".zip": true, ".tar": true, ".gz": true, ".rar": true, ".7z": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
	".mp3": true, ".mp4": true, ".wav": true, ".avi": true, ".mov": true, ".mkv": true,
	".db": true, ".sqlite": true, ".lock": true,
}

// LanguageForPath returns the language for a file path, or "" if unknown.
func LanguageForPath(path string) string {
	return languageByExt[strings.ToLower(filepath.Ext(path))]
}

// IsBinaryPath reports whether a path has an extension that is never indexed.
func IsBinaryPath(path string) bool {
	return binaryExts[strings.ToLower(filepath.Ext(path))]
}
