package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/noah-isme/scholarflow-api/internal/models"
)

// Digest returns the hex blake2b-256 digest of the command's canonical JSON encoding.
func Digest(cmd models.Command) (string, error) {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("encode command: %w", err)
	}
	sum := blake2b.Sum256(raw)
	return "0x" + hex.EncodeToString(sum[:]), nil
}
