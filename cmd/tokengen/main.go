package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Mints an HS256 token for exercising the API from the command line.
func main() {
	var (
		secret  = flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret")
		subject = flag.String("sub", "", "user id for the token subject")
		role    = flag.String("role", "", "role claim, e.g. admin for audit routes")
		ttl     = flag.Duration("ttl", time.Hour, "token lifetime")
	)
	flag.Parse()

	if *secret == "" || *subject == "" {
		slog.Error("both -secret (or JWT_SECRET) and -sub are required")
		os.Exit(1)
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": *subject,
		"iat": now.Unix(),
		"exp": now.Add(*ttl).Unix(),
	}
	if *role != "" {
		claims["role"] = *role
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(*secret))
	if err != nil {
		slog.Error("failed to sign token", "err", err)
		os.Exit(1)
	}
	fmt.Println(signed)
}
