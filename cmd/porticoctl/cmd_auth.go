package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pitabwire/portico/internal/auth"
	"github.com/pitabwire/portico/internal/capability"
)

var (
	loginUsername      string
	loginPasswordStdin bool

	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Log in to the backend and keep the session token",
		Long: `Log in with a username and password. The password is read from
PORTICO_PASSWORD, or from stdin with --password-stdin.`,
		RunE: runLogin,
	}

	logoutCmd = &cobra.Command{
		Use:   "logout",
		Short: "End the backend session and forget the saved token",
		RunE:  runLogout,
	}

	whoamiCmd = &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		RunE:  runWhoami,
	}

	rightsCmd = &cobra.Command{
		Use:   "rights",
		Short: "List the logged in user's rights and the role operations they allow",
		RunE:  runRights,
	}
)

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "username")
	loginCmd.Flags().BoolVar(&loginPasswordStdin, "password-stdin", false, "read the password from stdin")
	_ = loginCmd.MarkFlagRequired("username")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, rightsCmd)
}

func runLogin(cmd *cobra.Command, _ []string) error {
	password := os.Getenv("PORTICO_PASSWORD")
	if loginPasswordStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.alert()

	sess, err := a.auth.Login(cmd.Context(), a.store, auth.Credentials{Username: loginUsername, Password: password}, "", nil)
	if err != nil {
		return err
	}

	saved := &session{
		APIURL:           a.cfg.Backend.APIURL,
		Token:            sess.Token,
		Username:         sess.User.Username,
		Language:         sess.User.Language,
		RefreshExpiresIn: sess.RefreshExpiresIn,
	}
	if err := saved.save(sessionPath); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, sess.User)
	}
	fmt.Fprintf(out, "%s logged in as %s\n", green("✓"), bold(sess.User.Username))
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.alert()

	if _, err := a.auth.Logout(a.context(cmd.Context()), a.store); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s backend logout failed: %v\n", yellow("!"), err)
	}
	if err := removeSession(sessionPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s logged out\n", green("✓"))
	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.alert()

	u, err := a.auth.CurrentUser(a.context(cmd.Context()), a.store)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, u)
	}
	fmt.Fprintf(out, "%s\n", cyan(u.Username))
	if name := strings.TrimSpace(u.OtherNames + " " + u.LastName); name != "" {
		fmt.Fprintf(out, "  Name:     %s\n", name)
	}
	if u.Email != "" {
		fmt.Fprintf(out, "  Email:    %s\n", u.Email)
	}
	if u.Language != "" {
		fmt.Fprintf(out, "  Language: %s\n", u.Language)
	}
	if u.IsSuperuser {
		fmt.Fprintf(out, "  %s\n", yellow("superuser"))
	}
	fmt.Fprintf(out, "  Backend:  %s\n", gray(a.cfg.Backend.APIURL))
	return nil
}

func runRights(cmd *cobra.Command, _ []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.alert()

	u, err := a.auth.CurrentUser(a.context(cmd.Context()), a.store)
	if err != nil {
		return err
	}
	rights := u.RightSet()
	ops := capability.Operations(rights)

	out := cmd.OutOrStdout()
	if jsonOutput {
		sorted := rights.Sorted()
		if sorted == nil {
			sorted = []int{}
		}
		return printJSON(out, map[string]any{"rights": sorted, "operations": ops})
	}

	fmt.Fprintf(out, "%s\n", cyan("Role operations:"))
	for _, name := range []string{"search", "create", "update", "delete", "duplicate"} {
		mark := red("✗")
		if ops[name] {
			mark = green("✓")
		}
		fmt.Fprintf(out, "  %s %s\n", mark, name)
	}
	fmt.Fprintf(out, "%s %d\n", cyan("Rights:"), len(rights))
	for _, r := range rights.Sorted() {
		fmt.Fprintf(out, "  %d\n", r)
	}
	return nil
}
