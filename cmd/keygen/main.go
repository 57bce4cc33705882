package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/tripfolio/server/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "secret":
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			fmt.Fprintf(os.Stderr, "generate secret: %v\n", err)
			os.Exit(1)
		}
		secret := hex.EncodeToString(buf)
		fmt.Printf("Signing secret: %s\n", secret)
		fmt.Println("\nAdd this to your environment:")
		fmt.Printf("  export TRIPFOLIO_SECURITY__SIGNING_SECRET=%s\n", secret)
		fmt.Println("\nOr reference it from config.yaml:")
		fmt.Println("  security:")
		fmt.Println("    signing_secret: \"${TRIPFOLIO_SIGNING_SECRET}\"")

	case "token":
		if len(os.Args) < 4 {
			usage()
			os.Exit(1)
		}
		secret := os.Args[2]
		userID := os.Args[3]
		role := auth.RoleUser
		if len(os.Args) > 4 {
			role = auth.Role(os.Args[4])
		}

		svc := auth.NewTokenService([]byte(secret), 24*time.Hour)
		token, err := svc.Issue(userID, role, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Bearer token for %s (%s), valid 24h:\n", userID, role)
		fmt.Println(token)

	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  go run cmd/keygen/main.go secret")
	fmt.Println("  go run cmd/keygen/main.go token <signing-secret> <user-id> [role]")
	fmt.Println("")
	fmt.Println("secret generates a random signing secret for session and CSRF tokens.")
	fmt.Println("token mints a bearer token signed with the given secret for local testing.")
}
