package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/xlzd/gotp"
)

// Prints the current code for a Base32 secret. Handy for testing an
// enrollment without an authenticator app; uses an independent TOTP
// implementation so it doubles as a cross-check of the server's codes.
func main() {
	var (
		secret = flag.String("secret", "", "Base32 TOTP secret")
		period = flag.Int("period", 30, "time-step in seconds (300 for delivered passcodes)")
	)
	flag.Parse()

	if *secret == "" {
		slog.Error("-secret is required")
		os.Exit(1)
	}

	totp := gotp.NewTOTP(*secret, 6, *period, nil)
	fmt.Println(totp.Now())
}
