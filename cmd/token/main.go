// cmd/token/main.go
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jason-s-yu/arena/internal/auth"
	"github.com/jason-s-yu/arena/internal/models"
	_ "github.com/joho/godotenv/autoload"
)

// Prints a signed credential for local testing, e.g.
//
//	go run ./cmd/token -user 1 -email ash@example.com
func main() {
	userID := flag.Int64("user", 0, "user id to embed in the token")
	email := flag.String("email", "", "email to embed in the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "-user must be a positive id")
		flag.Usage()
		os.Exit(2)
	}

	var cfg struct {
		JWTSecret string `env:"JWT_SECRET,required"`
	}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("parse env: %v", err)
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		log.Fatal(err)
	}
	token, err := verifier.Sign(models.Identity{UserID: *userID, Email: *email}, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(token)
}
