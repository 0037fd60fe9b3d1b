package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/arguslabs/argus/core/pkg/config"
)

// runToken mints an admin session token for use against the protected ops
// endpoints.
func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	user := fs.String("user", "", "user ID to embed in the session")
	role := fs.String("role", "operator", "session role: admin, operator, or viewer")
	mfa := fs.Bool("mfa", false, "mark the session as MFA-verified")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *user == "" {
		fmt.Fprintln(stderr, "token: -user is required")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	sessions, err := sessionsFromConfig(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "build session manager: %v\n", err)
		return 1
	}
	if sessions == nil {
		fmt.Fprintln(stderr, "token: SESSION_SIGNING_SECRET is not set")
		return 1
	}

	token, err := sessions.IssueSession(*user, *role, *mfa)
	if err != nil {
		fmt.Fprintf(stderr, "issue session: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}
