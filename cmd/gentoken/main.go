// Package main provides a tool operators use to mint a standalone JWT for
// the LEOScope coordinator's HTTP surface without going through a login
// flow, e.g. to bootstrap the first admin account.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/leoscope/leoscope/internal/auth"
	"github.com/leoscope/leoscope/internal/models"
)

func main() {
	userID := flag.String("user", "admin", "User ID for the token")
	role := flag.String("role", string(models.RoleAdmin), "Role for the token (ADMIN, USER_PRIV, USER, NODE_PRIV, NODE)")
	secret := flag.String("secret", "", "JWT secret (or set JWT_SECRET env var)")
	expiry := flag.Duration("expiry", 24*365*time.Hour, "Token expiry duration (default: 1 year)")
	flag.Parse()

	jwtSecret := *secret
	if jwtSecret == "" {
		jwtSecret = os.Getenv("JWT_SECRET")
	}
	if jwtSecret == "" {
		fmt.Fprintln(os.Stderr, "Error: JWT secret required. Use -secret flag or set JWT_SECRET env var")
		fmt.Fprintln(os.Stderr, "Example: go run ./cmd/gentoken -secret 'your-secret-at-least-32-chars-long'")
		os.Exit(1)
	}
	if len(jwtSecret) < 32 {
		fmt.Fprintln(os.Stderr, "Error: JWT secret must be at least 32 characters")
		os.Exit(1)
	}

	cfg := &auth.Config{
		JWTSecret:   []byte(jwtSecret),
		TokenExpiry: *expiry,
	}

	r := models.Role(*role)
	if !r.IsValid() {
		fmt.Fprintf(os.Stderr, "Error: invalid role %q\n", *role)
		os.Exit(1)
	}

	svc := auth.NewService(cfg, nil, nil)
	token, err := svc.GenerateToken(*userID, r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
