package cli

import (
	"fmt"

	"github.com/jwgray1010/Unsaid-sub003/internal/auth"
)

// Execute implements the go-flags Commander interface for KeygenCommand.
func (c *KeygenCommand) Execute(args []string) error {
	key, hash, err := auth.GenerateInternalKey()
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	if c.env.globals.JSON {
		return c.env.printJSON(map[string]string{"key": key, "hash": hash})
	}
	fmt.Fprintf(c.env.out, "Key:   %s\n", key)
	fmt.Fprintf(c.env.out, "Hash:  %s\n", hash)
	fmt.Fprintln(c.env.out)
	fmt.Fprintln(c.env.out, "Set TONE_INTERNAL_KEY_HASH to the hash on the server; the key is shown only once.")
	return nil
}
