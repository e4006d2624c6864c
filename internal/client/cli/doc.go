// Package cli provides the interactive sessionkeeper command-line client.
//
// It wires configuration, the local session database and the gRPC client,
// resumes a saved session and runs a REPL for the session commands:
// register, login, whoami, sessions, refresh, passwd, logout and logout-all.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
