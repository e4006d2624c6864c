package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// runREPL starts a simple read–eval–print loop for the sessionkeeper CLI.
//
// It reads a line from reader, parses the first token as the command, and
// dispatches to methods on 'a'. The loop exits on EOF or when the user types
// "exit" or "quit". Prompts of the command handlers read from the same
// reader, so nothing typed ahead is lost.
//
//	Not logged in:
//	  - register       create an account
//	  - login          authenticate and save the session
//
//	Logged in:
//	  - whoami         ask the server who the access token belongs to
//	  - sessions       list the active sessions of the user
//	  - refresh        rotate the refresh token now
//	  - passwd         change the password (ends every session)
//	  - logout         revoke this session
//	  - logout-all     revoke every session of the user
//
// Errors returned by command handlers are printed and the loop goes on.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("sk %s> ", statusFn()))
		line, err := readLine(reader)
		if err != nil {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		var cmdErr error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn(helpLoggedIn)
			} else {
				printlnFn(helpAnonymous)
			}

		case "register":
			cmdErr = a.Register(ctx)

		case "login":
			cmdErr = a.Login(ctx)

		case "refresh":
			cmdErr = a.Refresh(ctx)

		case "whoami":
			cmdErr = a.WhoAmI(ctx)

		case "sessions":
			cmdErr = a.Sessions(ctx)

		case "passwd":
			cmdErr = a.ChangePassword(ctx)

		case "logout":
			cmdErr = a.Logout(ctx)

		case "logout-all":
			cmdErr = a.LogoutAll(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if cmdErr != nil {
			printlnFn("Error:", describe(cmdErr))
		}
	}
}
