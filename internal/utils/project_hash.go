package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// ProjectHash returns the first 12 hex characters of the SHA-256 of the
// absolute project directory path, used to namespace per-project
// database/vault/file paths under a shared data directory.
func ProjectHash(projectDir string) string {
	if projectDir == "" {
		return ""
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		abs = projectDir
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:12]
}

// DatabaseFilename returns the per-project database filename: the hashed
// name, or the literal "claudia.db" when projectDir is empty (standalone
// mode).
func DatabaseFilename(projectDir string) string {
	if h := ProjectHash(projectDir); h != "" {
		return h + ".db"
	}
	return "claudia.db"
}
