// Package jsonc decodes JSON-with-comments config files for lspd.
package jsonc

import (
	"encoding/json"
	"fmt"
	"os"

	jsonc "github.com/muhammadmuzzammil1998/jsonc"
)

// DecodeFile loads a JSONC file into dest.
func DecodeFile(path string, dest any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return Decode(b, dest)
}

// Decode strips comments/trailing commas from data and unmarshals it.
func Decode(data []byte, dest any) error {
	clean := jsonc.ToJSON(data)
	if err := json.Unmarshal(clean, dest); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
