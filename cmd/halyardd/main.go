package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/halyard-chat/halyard/internal/channel"
	"github.com/halyard-chat/halyard/internal/config"
	"github.com/halyard-chat/halyard/internal/message"
	"github.com/halyard-chat/halyard/internal/permission"
	"github.com/halyard-chat/halyard/internal/ratelimit"
	"github.com/halyard-chat/halyard/internal/role"
	"github.com/halyard-chat/halyard/internal/server"
	"github.com/halyard-chat/halyard/internal/sqlite"
	"github.com/halyard-chat/halyard/internal/sqlite/migrations"
	"github.com/halyard-chat/halyard/internal/tlsutil"
	"github.com/halyard-chat/halyard/internal/user"
	"github.com/halyard-chat/halyard/internal/wire"
)

// Files the server expects next to its binary, as the protocol prescribes.
const (
	databasePath = "data.sqlite"
	identityPath = "cert.pfx"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	_ = godotenv.Load()

	port := parsePort(os.Args[1:])

	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(ctx, databasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := sqlite.Migrate(db, migrations.FS); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	identity, leaf, err := tlsutil.LoadIdentity(identityPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load the certificate bundle.")
		fmt.Fprintln(os.Stderr, "Are you in the right directory, and is cert.pfx readable")
		fmt.Fprintln(os.Stderr, "and password-less?")
		return fmt.Errorf("load identity: %w", err)
	}

	// The fingerprint is the out-of-band secret users pin against; it goes
	// to stdout where the operator can copy it.
	fmt.Println("Almost there! To secure your users' connection,")
	fmt.Println("you will have to send a piece of data manually.")
	fmt.Println("The text is as follows:")
	fmt.Println(tlsutil.Fingerprint(leaf))

	users := user.NewSQLRepository(db, log.Logger)
	roles := role.NewSQLRepository(db, log.Logger)
	channels := channel.NewSQLRepository(db, log.Logger)
	messages := message.NewSQLRepository(db, log.Logger)

	resolver := permission.NewResolver(roles, cfg.OwnerID, log.Logger)
	limiter := ratelimit.NewLimiter(
		cfg.LimitRequestsCheapPer10Seconds, cfg.LimitRequestsExpensivePer5Minutes)
	registry := server.NewRegistry(cfg.LimitConnectionsPerIP)
	hub := server.NewHub(registry, resolver, users, log.Logger)
	handler := server.NewHandler(cfg, users, roles, channels, messages,
		resolver, limiter, registry, hub, log.Logger)
	srv := server.New(handler, log.Logger)

	ln, err := tls.Listen("tcp", fmt.Sprintf(":%d", port), &tls.Config{
		Certificates: []tls.Certificate{identity},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}

	return srv.Serve(ctx, ln)
}

// parsePort reads the optional positional port argument. A malformed value
// falls back to the default with a warning rather than refusing to start.
func parsePort(args []string) int {
	if len(args) == 0 {
		fmt.Println("TIP: You can change port by putting it as a command line argument.")
		return wire.DefaultPort
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port < 1 || port > 65535 {
		fmt.Fprintln(os.Stderr, "Warning: Supplied port is not a valid number.")
		fmt.Fprintln(os.Stderr, "Using default.")
		return wire.DefaultPort
	}
	return port
}
