package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// issue-token signs a development token in the exam backend's format so
// the proctor can be exercised without a running backend login.
func main() {
	var (
		userID      string
		role        string
		ttl         time.Duration
		promptToken bool
	)
	flag.StringVar(&userID, "user", "", "User ID to put in the token")
	flag.StringVar(&role, "role", string(service.RoleStudent), "Token role: student or admin")
	flag.DurationVar(&ttl, "ttl", 4*time.Hour, "Token lifetime")
	flag.BoolVar(&promptToken, "prompt-secret", false, "Read JWT secret from the terminal")
	flag.Parse()

	cfg := config.Load()
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat).With().Str("component", "issue-token").Logger()

	reader := bufio.NewReader(os.Stdin)

	// ─── User ──────────────────────────────────────────────────────────
	if userID == "" {
		fmt.Fprint(os.Stderr, "User ID: ")
		line, _ := reader.ReadString('\n')
		userID = strings.TrimSpace(line)
	}
	if userID == "" {
		log.Fatal().Msg("User ID is required")
	}

	r := service.Role(role)
	if r != service.RoleStudent && r != service.RoleAdmin {
		log.Fatal().Str("role", role).Msg("Role must be student or admin")
	}
	if ttl <= 0 {
		log.Fatal().Dur("ttl", ttl).Msg("TTL must be positive")
	}

	// ─── Secret ────────────────────────────────────────────────────────
	if promptToken || os.Getenv("JWT_SECRET") == "" {
		fmt.Fprint(os.Stderr, "JWT secret: ")
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read secret")
		}
		if len(secret) == 0 {
			log.Fatal().Msg("Secret cannot be empty")
		}
		cfg.JWTSecret = string(secret)
	}

	// ─── Sign ──────────────────────────────────────────────────────────
	token, err := service.NewAuthService(cfg).IssueToken(userID, r, ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	log.Info().Str("user_id", userID).Str("role", role).Dur("ttl", ttl).Msg("Token issued")
	fmt.Println(token)
}
