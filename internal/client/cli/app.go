package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/client"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/services"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
)

type App struct {
	config      *config.Config
	authService services.AuthService
	db          *sql.DB
	userName    string
	loggedIn    bool
	reader      *bufio.Reader
}

// NewApp opens the local session database, connects to the server and
// resumes a saved session if there is one.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	db, err := client.InitDatabase(ctx, c.SessionDBPath)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	apiClient, err := client.NewSessionClient(c.ServerEndpointAddr, c.RequestTimeout)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger := logging.NewJSON(os.Stderr, "warn").With("module", "cli")
	as := services.NewAuthService(apiClient, db, logger)

	userName, err := as.Restore(ctx)
	if err != nil {
		_ = as.Close(ctx)
		_ = db.Close()
		return nil, fmt.Errorf("error restoring session: %w", err)
	}

	return &App{
		config:      c,
		authService: as,
		db:          db,
		userName:    userName,
		loggedIn:    userName != "",
		reader:      bufio.NewReader(os.Stdin),
	}, nil
}

// Run starts the REPL and blocks until the user exits or stdin ends.
func (a *App) Run(ctx context.Context) {
	defer func() {
		_ = a.authService.Close(ctx)
		_ = a.db.Close()
	}()

	printlnFn("Welcome to sessionkeeper CLI (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, a.reader)
}

func (a *App) isLoggedIn() bool {
	return a.loggedIn
}

func (a *App) forget() {
	a.loggedIn = false
	a.userName = ""
}

func (a *App) getStatus() string {
	if !a.loggedIn {
		return "(anonymous)"
	}
	return fmt.Sprintf("(%s)", a.userName)
}
