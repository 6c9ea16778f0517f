// Command porticoctl administers roles and user settings from the terminal.
// It drives the same packages as the BFF directly against the backend.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/portico/internal/auth"
	"github.com/pitabwire/portico/internal/config"
	"github.com/pitabwire/portico/internal/export"
	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/internal/mutation"
	"github.com/pitabwire/portico/internal/role"
	"github.com/pitabwire/portico/internal/store"
	"github.com/pitabwire/portico/model"
)

var (
	configPath  string
	apiURL      string
	sessionPath string
	jsonOutput  bool
	assumeYes   bool
	verbose     bool

	rootCmd = &cobra.Command{
		Use:           "porticoctl",
		Short:         "Manage portal roles, rights and settings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to a portico config file")
	pf.StringVar(&apiURL, "api-url", "", "backend API URL (overrides config and session)")
	pf.StringVar(&sessionPath, "session", defaultSessionPath(), "where the login session is kept")
	pf.BoolVar(&jsonOutput, "json", false, "print machine readable JSON")
	pf.BoolVarP(&assumeYes, "yes", "y", false, "answer yes to confirmations")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log backend calls to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

// app holds the services one command runs against.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	client  *graphql.Client
	auth    *auth.Service
	roles   *role.Service
	exports *export.Service
	store   *store.Store
	sess    *session
}

// newApp builds the services. With requireSession the saved login is
// loaded and its token used for every backend call.
func newApp(requireSession bool) (*app, error) {
	cfg := config.Defaults()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	var sess *session
	if requireSession {
		s, err := loadSession(sessionPath)
		if err != nil {
			return nil, err
		}
		sess = s
	}

	switch {
	case apiURL != "":
		cfg.Backend.APIURL = apiURL
	case sess != nil && sess.APIURL != "":
		cfg.Backend.APIURL = sess.APIURL
	case os.Getenv("PORTICO_API_URL") != "":
		cfg.Backend.APIURL = os.Getenv("PORTICO_API_URL")
	}

	logger := zap.NewNop()
	if verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		logger = l
	}

	client := graphql.NewClient(cfg.Backend, graphql.WithLogger(logger))
	journal := mutation.NewMemoryJournalStore()
	tracker := mutation.NewTracker(client, cfg.Mutation, mutation.WithTrackerLogger(logger))
	submitter := mutation.NewSubmitter(client, tracker, journal, mutation.WithSubmitterLogger(logger))
	catalog := role.NewCatalog(client, cfg.Permissions, nil)

	return &app{
		cfg:     cfg,
		logger:  logger,
		client:  client,
		auth:    auth.NewService(client, logger),
		roles:   role.NewService(client, submitter, catalog, logger),
		exports: export.NewService(client),
		store:   store.New(),
		sess:    sess,
	}, nil
}

// context returns ctx carrying the session's identity for backend calls.
func (a *app) context(ctx context.Context) context.Context {
	if a.sess == nil {
		return ctx
	}
	return model.WithRequestContext(ctx, &model.RequestContext{
		SubjectID: a.sess.Username,
		Username:  a.sess.Username,
		Language:  a.sess.Language,
		Token:     a.sess.Token,
	})
}

// alert reports the global alert a failed backend call left behind, if any.
func (a *app) alert() {
	if e := a.store.DrainAlert(); e != nil && verbose {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.YellowString("backend:"), e.Message)
	}
}
