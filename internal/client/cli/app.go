package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/config"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/services"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/storage"
	"github.com/dmitrijs2005/vaultkeeper/internal/container"
	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
	"github.com/dmitrijs2005/vaultkeeper/internal/netx"
)

// App carries what every command needs.
type App struct {
	config *config.Config
	db     *sql.DB
	svc    *services.VaultService
	log    logging.Logger

	reader *bufio.Reader
	out    io.Writer
	// secret reads a passphrase without echo.
	secret func(prompt string) ([]byte, error)
}

// NewApp opens the vault database named by c and builds the service.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	log := logging.New(os.Stderr, c.LogLevel, c.LogFormat)

	db, err := storage.Open(ctx, c.Database())
	if err != nil {
		return nil, fmt.Errorf("failed to open vault database: %w", err)
	}

	svc := services.New(db, services.Options{
		DeviceID: c.DeviceID,
		DataDir:  c.DataDir,
		S3: container.S3Settings{
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
		},
		HTTPClient:     netx.NewClient(c.HTTPTimeout),
		MaxRetries:     c.MaxRetries,
		Backoff:        c.Backoff,
		BreachURL:      c.BreachURL,
		BreachDelay:    c.BreachDelay,
		BreachRetries:  c.BreachRetries,
		TrashRetention: c.TrashRetention,
	}, log)

	a := newApp(c, svc, os.Stdin, os.Stdout)
	a.db = db
	a.log = log
	return a, nil
}

func newApp(c *config.Config, svc *services.VaultService, in io.Reader, out io.Writer) *App {
	a := &App{
		config: c,
		svc:    svc,
		log:    logging.Discard(),
		reader: bufio.NewReader(in),
		out:    out,
	}
	a.secret = func(prompt string) ([]byte, error) {
		return GetPassword(a.reader, prompt, a.out)
	}
	return a
}

// Close locks the vault and closes the database.
func (a *App) Close() error {
	a.svc.Lock()
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Run executes the command line in args.
func (a *App) Run(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(a.reader)
	root.SetOut(a.out)
	root.SetErr(a.out)
	return root.ExecuteContext(ctx)
}
