package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/arguslabs/argus/core/pkg/crypto"
)

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "argus.seed", "path for the Ed25519 seed file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pub, err := crypto.GenerateSeedFile(*out)
	if err != nil {
		fmt.Fprintf(stderr, "generate seed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "seed written to %s\npublic key: %s\n", *out, pub)
	return 0
}
