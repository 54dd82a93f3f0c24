// Command desk-token mints RS256 service tokens for queuedesk adapters and
// operators.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/forgo/queuedesk/pkg/jwt"
)

type options struct {
	keyPath     string
	subject     string
	role        string
	communities []string
	issuer      string
	expMins     int
	outputJSON  bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "desk-token: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	jwtService, err := jwt.NewService(jwt.Config{
		PrivateKeyPath: opts.keyPath,
		Issuer:         opts.issuer,
		ExpirationMins: opts.expMins,
	})
	if err != nil {
		return fmt.Errorf("failed to create JWT service: %w (generate keys with: make keys-generate)", err)
	}

	claims := jwt.Claims{
		Role:        opts.role,
		Communities: opts.communities,
	}
	claims.Subject = opts.subject

	token, err := jwtService.Sign(claims)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	if opts.outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"access_token": token,
			"token_type":   "Bearer",
			"expires_in":   opts.expMins * 60,
			"subject":      opts.subject,
			"role":         opts.role,
			"communities":  opts.communities,
		})
	}

	expTime := time.Now().Add(time.Duration(opts.expMins) * time.Minute)
	fmt.Println("Service Token Generated")
	fmt.Println("=======================")
	fmt.Printf("Subject:     %s\n", opts.subject)
	fmt.Printf("Role:        %s\n", opts.role)
	if len(opts.communities) > 0 {
		fmt.Printf("Communities: %v\n", opts.communities)
	} else {
		fmt.Println("Communities: all")
	}
	fmt.Printf("Expires:     %s\n", expTime.Format(time.RFC3339))
	fmt.Println()
	fmt.Println(token)
	return nil
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	flagSet := pflag.NewFlagSet("desk-token", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.keyPath, "key", "k", "./keys/private.pem", "path to the RS256 private key")
	flagSet.StringVarP(&opts.subject, "subject", "s", "", "token subject (adapter name or platform user id)")
	flagSet.StringVarP(&opts.role, "role", "r", jwt.RoleAdapter, "token role: adapter or user")
	flagSet.StringSliceVarP(&opts.communities, "community", "c", nil, "restrict the token to these community ids (repeatable)")
	flagSet.StringVar(&opts.issuer, "issuer", "queuedesk.forgo.software", "JWT issuer, must match the server's JWT_ISSUER")
	flagSet.IntVar(&opts.expMins, "exp", 60*24*30, "token lifetime in minutes")
	flagSet.BoolVar(&opts.outputJSON, "json", false, "print the token as JSON")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", extra[0])
	}
	if opts.subject == "" {
		return nil, errors.New("--subject is required")
	}
	if opts.role != jwt.RoleAdapter && opts.role != jwt.RoleUser {
		return nil, fmt.Errorf("--role must be %q or %q, got %q", jwt.RoleAdapter, jwt.RoleUser, opts.role)
	}
	if opts.expMins <= 0 {
		return nil, errors.New("--exp must be positive")
	}
	return opts, nil
}
