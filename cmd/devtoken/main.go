// devtoken mints a bearer token for local testing against a CodeCollab
// server that shares the same JWT_SECRET.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Debunkem/CodeCollab/internal/auth"
	"github.com/Debunkem/CodeCollab/internal/config"
	"github.com/Debunkem/CodeCollab/internal/room"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var profile room.Profile
	var ttl time.Duration

	flagSet := pflag.NewFlagSet("devtoken", pflag.ContinueOnError)
	envFile := flagSet.String("env-file", ".env", "dotenv file to load before reading JWT_SECRET")
	flagSet.StringVar(&profile.ID, "user", "", "user id (required)")
	flagSet.StringVar(&profile.Username, "name", "", "display name")
	flagSet.StringVar(&profile.Avatar, "avatar", "", "avatar URL")
	flagSet.DurationVar(&ttl, "ttl", 0, "token lifetime (default: JWT_EXPIRATION_HOURS)")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if profile.ID == "" {
		return errors.New("--user is required")
	}
	if profile.Username == "" {
		profile.Username = profile.ID
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = cfg.TokenTTL
	}

	token, err := auth.NewTokens(cfg.JWTSecret, ttl).Issue(profile)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
