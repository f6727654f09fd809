package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pairdesk/qr-auth-server/internal/token"
)

// Signs a token for a user so the protected endpoints can be exercised by
// hand. With a code ID it signs a pairing token bound to that qr_codes row;
// without one it signs a session token. TOKEN_SECRET must match the running
// server.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: TOKEN_SECRET=... go run scripts/make-token.go <user-id> [code-id]\n")
		os.Exit(1)
	}

	secret := os.Getenv("TOKEN_SECRET")
	if secret == "" {
		fmt.Fprintf(os.Stderr, "Error: TOKEN_SECRET is not set\n")
		os.Exit(1)
	}

	codec, err := token.NewCodec(secret, 24*time.Hour, 2*time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	userID := os.Args[1]

	var signed string
	if len(os.Args) > 2 {
		signed, err = codec.IssuePairing(userID, os.Args[2])
	} else {
		signed, err = codec.IssueSession(userID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(signed)
}
