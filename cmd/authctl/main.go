package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mfigueiredo/go-auth-client/auth"
	"github.com/mfigueiredo/go-auth-client/expiry"
	"github.com/mfigueiredo/go-auth-client/identity"
	"github.com/mfigueiredo/go-auth-client/internal/config"
	autherrors "github.com/mfigueiredo/go-auth-client/internal/errors"
	"github.com/mfigueiredo/go-auth-client/internal/utils"
	"github.com/mfigueiredo/go-auth-client/session"
	"github.com/mfigueiredo/go-auth-client/session/sqliterepo"
	"github.com/mfigueiredo/go-auth-client/tenants"
	"github.com/mfigueiredo/go-auth-client/token"
	"github.com/mfigueiredo/go-auth-client/transport"
)

// app bundles the composed session core for the command handlers.
type app struct {
	cfg     *config.Config
	store   *sqliterepo.Repo
	coord   *auth.Coordinator
	tenants *tenants.Context
	logger  zerolog.Logger
}

// freshenerFunc and refresherFunc break the construction cycle between the
// token manager, the transport and the identity client: the manager refreshes
// through the client, the client sends through the transport, the transport
// asks the manager for fresh tokens.
type freshenerFunc func(ctx context.Context, sess *session.Session) (*session.Session, error)

func (f freshenerFunc) ForceRefresh(ctx context.Context, sess *session.Session) (*session.Session, error) {
	return f(ctx, sess)
}

type refresherFunc func(ctx context.Context, refreshToken string) (*token.Pair, error)

func (f refresherFunc) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	return f(ctx, refreshToken)
}

// consoleSink is the CLI's stand-in for a UI layer: the notification is a
// printed line and the redirect is advice.
type consoleSink struct{}

func (consoleSink) SessionExpired(reason expiry.Reason) {
	fmt.Fprintf(os.Stderr, "Session expired (%s).\n", reason)
}

func (consoleSink) RedirectToSignIn(marker string) {
	fmt.Fprintf(os.Stderr, "Run `authctl login` to sign in again. [%s]\n", marker)
}

func compose(logger zerolog.Logger) (*app, error) {
	cfg := config.New()

	store, err := sqliterepo.New(cfg.StorePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	runtime := session.NewRuntime()

	var (
		ident   *identity.Client
		coord   *auth.Coordinator
		manager *token.Manager
	)

	notifier := expiry.NewNotifier(
		func() {
			if coord != nil {
				coord.ExpireLocal()
			}
		},
		expiry.WithSink(consoleSink{}),
		expiry.WithMinInterval(cfg.NotifyInterval),
		expiry.WithCooldown(cfg.NotifyCooldown),
		expiry.WithLogger(logger),
	)

	manager, err = token.NewManager(store,
		refresherFunc(func(ctx context.Context, refreshToken string) (*token.Pair, error) {
			return ident.Refresh(ctx, refreshToken)
		}),
		token.WithRefreshBuffer(cfg.RefreshBuffer),
		token.WithExpirySkew(cfg.ExpirySkew),
		token.WithRetryPolicy(token.RetryPolicy{
			Attempts:  cfg.RetryAttempts,
			BaseDelay: cfg.RetryBaseDelay,
			MaxDelay:  cfg.RetryMaxDelay,
		}),
		token.WithLogger(logger),
		token.WithInvalidHandler(func(reason string) {
			notifier.Trigger(expiry.Reason(reason))
		}),
	)
	if err != nil {
		return nil, err
	}

	authTransport, err := transport.New(runtime,
		freshenerFunc(func(ctx context.Context, sess *session.Session) (*session.Session, error) {
			return manager.ForceRefresh(ctx, sess)
		}),
		transport.WithExpiryTrigger(notifier),
		transport.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: authTransport,
		Timeout:   cfg.RequestTimeout,
	}
	ident, err = identity.New(cfg.BaseURL, httpClient, logger)
	if err != nil {
		return nil, err
	}

	tenantCtx, err := tenants.NewContext(ident, store, runtime, logger)
	if err != nil {
		return nil, err
	}

	coord, err = auth.NewCoordinator(auth.Deps{
		Store:    store,
		Runtime:  runtime,
		Identity: ident,
		Tokens:   manager,
		Tenants:  tenantCtx,
		Notifier: notifier,
	},
		auth.WithLogger(logger),
		auth.WithSignOutHandler(func() {
			fmt.Println("Signed out.")
		}),
	)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		store:   store,
		coord:   coord,
		tenants: tenantCtx,
		logger:  logger,
	}, nil
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).
		With().Timestamp().Logger()
	if os.Getenv("AUTH_DEBUG") != "" {
		logger = logger.Level(zerolog.DebugLevel)
	}

	var application *app

	rootCmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Session and tenant management for the identity service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			composed, err := compose(logger)
			if err != nil {
				return err
			}
			application = composed
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if application != nil {
				_ = application.store.Close()
			}
		},
	}

	rootCmd.AddCommand(
		loginCmd(&application),
		whoamiCmd(&application),
		tenantsCmd(&application),
		switchCmd(&application),
		logoutCmd(&application),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func loginCmd(application **app) *cobra.Command {
	var login string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := *application
			displayAppname(a.cfg.AppName)

			reader := bufio.NewReader(cmd.InOrStdin())
			if login == "" {
				fmt.Print("Login: ")
				line, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				login = strings.TrimSpace(line)
			}
			fmt.Print("Password: ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			password := strings.TrimSpace(line)

			sess, err := a.coord.SignIn(cmd.Context(), identity.Credentials{
				Login:    login,
				Password: password,
			})
			if err != nil {
				var validationErr *autherrors.ValidationError
				if autherrors.As(err, &validationErr) {
					for field, messages := range validationErr.Fields {
						fmt.Fprintf(os.Stderr, "  %s: %s\n", field, strings.Join(messages, "; "))
					}
				}
				return err
			}
			fmt.Printf("Signed in as %s (%s)\n", sess.User.Name, sess.User.Email)
			if tenant := sess.Tenant(); tenant != "" {
				fmt.Printf("Active tenant: %s\n", tenant)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&login, "user", "u", "", "login name")
	return cmd
}

func whoamiCmd(application **app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := *application
			if err := a.coord.Initialize(cmd.Context()); err != nil {
				return err
			}
			user := a.coord.CurrentUser()
			if user == nil {
				return fmt.Errorf("not signed in")
			}
			fmt.Printf("%s <%s>\n", user.Name, user.Email)
			fmt.Printf("  id:     %d\n", user.ID)
			fmt.Printf("  role:   %s\n", user.Role)
			if sess := a.coord.CurrentSession(); sess != nil {
				if tenant := sess.Tenant(); tenant != "" {
					fmt.Printf("  tenant: %s\n", tenant)
				}
				if expiresAt := utils.Value(sess.AccessExpiresAt); !expiresAt.IsZero() {
					fmt.Printf("  token expires: %s\n", expiresAt.Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

func tenantsCmd(application **app) *cobra.Command {
	return &cobra.Command{
		Use:   "tenants",
		Short: "List the tenants available to the user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := *application
			if err := a.coord.Initialize(cmd.Context()); err != nil {
				return err
			}
			if a.coord.CurrentUser() == nil {
				return fmt.Errorf("not signed in")
			}
			list, err := a.tenants.List(cmd.Context())
			if err != nil {
				return err
			}
			current := a.tenants.Current()
			for _, t := range list {
				marker := " "
				if current != nil && current.ID == t.ID {
					marker = "*"
				}
				fmt.Printf("%s %-12s %s\n", marker, t.ID, t.Name)
			}
			return nil
		},
	}
}

func switchCmd(application **app) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <tenant-id>",
		Short: "Activate another tenant for the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := *application
			if err := a.coord.Initialize(cmd.Context()); err != nil {
				return err
			}
			if a.coord.CurrentUser() == nil {
				return fmt.Errorf("not signed in")
			}
			tenant, err := a.coord.SwitchTenant(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Switched to %s (%s)\n", tenant.Name, tenant.ID)
			return nil
		},
	}
}

func logoutCmd(application **app) *cobra.Command {
	var silent bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := *application
			if err := a.coord.Initialize(cmd.Context()); err != nil {
				return err
			}
			return a.coord.SignOut(cmd.Context(), silent)
		},
	}
	cmd.Flags().BoolVar(&silent, "silent", false, "skip the sign-out notice")
	return cmd
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
