// Package main is the entry point for the InMyOpinion API server.
//
// MAIN PACKAGE IN GO:
// Every Go program starts execution in the main() function of the "main" package.
// The main package should be kept minimal. Its job is to:
//  1. Read configuration (environment and .env file, via internal/config)
//  2. Create dependencies that talk to the outside world (logger, mail
//     provider, payment provider, Redis)
//  3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
//
// COMMANDS:
// The binary is a small cobra CLI so that operational tasks ship with the
// server instead of as separate scripts:
//
//	server serve          run the HTTP API (default)
//	server migrate        apply database migrations and exit
//	server create-admin   create or promote the admin account
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
