// Command keygen mints an agent token and prints the hash to store.
// Only the SHA-256 hash ever reaches the database; the raw token is
// shown once, here.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/tjfontaine/agentguard/internal/domain"
)

func main() {
	if len(os.Args) > 1 {
		fmt.Fprintln(os.Stderr, "keygen takes no arguments")
		os.Exit(1)
	}

	token := domain.TokenPrefix + strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
	hash := domain.HashToken(token)
	prefix := token[:len(domain.TokenPrefix)+8]

	fmt.Printf("Token:        %s\n", token)
	fmt.Printf("Prefix:       %s\n", prefix)
	fmt.Printf("SHA-256 Hash: %s\n", hash)
	fmt.Println("\nInsert into agent_tokens:")
	fmt.Printf("  INSERT INTO agent_tokens (id, agent_id, token_hash, prefix, active)\n")
	fmt.Printf("  VALUES ('tok_%s', '<agent-id>', '%s', '%s', 1);\n", uuid.New().String(), hash, prefix)
}
