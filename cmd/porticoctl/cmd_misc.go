package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pitabwire/portico/internal/mutation"
	"github.com/pitabwire/portico/internal/settings"
)

var (
	journalLimit int
	exportDir    string

	journalCmd = &cobra.Command{
		Use:   "journal",
		Short: "Show the backend mutation log, newest first",
		Args:  cobra.NoArgs,
		RunE:  runJournal,
	}

	exportCmd = &cobra.Command{
		Use:   "export <file>",
		Short: "Download a backend export as CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}

	settingsCmd = &cobra.Command{
		Use:   "settings",
		Short: "Read and change the logged in user's portal settings",
	}

	settingsGetCmd = &cobra.Command{
		Use:   "get <key>",
		Short: "Print a setting",
		Args:  cobra.ExactArgs(1),
		RunE:  runSettingsGet,
	}

	settingsSetCmd = &cobra.Command{
		Use:   "set <key> <json-value>",
		Short: "Change a setting",
		Example: `  porticoctl settings set isSecondaryCalendarEnabled true
  porticoctl settings set userEconomicUnit '{"id": 4}'`,
		Args: cobra.ExactArgs(2),
		RunE: runSettingsSet,
	}

	settingsDeleteCmd = &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a setting",
		Args:  cobra.ExactArgs(1),
		RunE:  runSettingsDelete,
	}
)

func init() {
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "number of entries")
	exportCmd.Flags().StringVarP(&exportDir, "dir", "d", ".", "directory to save into")

	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd, settingsDeleteCmd)
	rootCmd.AddCommand(journalCmd, exportCmd, settingsCmd)
}

func runJournal(cmd *cobra.Command, _ []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.alert()

	records, err := mutation.FetchHistory(a.context(cmd.Context()), a.client, a.store, journalLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, gray("no mutations"))
		return nil
	}
	for _, rec := range records {
		printRecord(out, rec)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.alert()

	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", exportDir, err)
	}
	path, err := a.exports.Save(a.context(cmd.Context()), args[0], exportDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s saved %s\n", green("✓"), path)
	return nil
}

// openSettings opens the configured settings repository for the logged in
// user.
func openSettings() (settings.Repository, string, func(), error) {
	a, err := newApp(true)
	if err != nil {
		return nil, "", nil, err
	}
	repo, err := settings.New(a.cfg.Settings, a.logger)
	if err != nil {
		return nil, "", nil, err
	}
	closeFn := func() {}
	if c, ok := repo.(interface{ Close() error }); ok {
		closeFn = func() { c.Close() }
	}
	return repo, a.sess.Username, closeFn, nil
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	repo, subject, closeFn, err := openSettings()
	if err != nil {
		return err
	}
	defer closeFn()

	value, ok, err := repo.Get(cmd.Context(), subject, args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("setting %q is not set", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(value))
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	repo, subject, closeFn, err := openSettings()
	if err != nil {
		return err
	}
	defer closeFn()

	key, value := args[0], json.RawMessage(args[1])
	if err := settings.ValidateValue(key, value); err != nil {
		return err
	}
	if err := repo.Set(cmd.Context(), subject, key, value); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", green("✓"), key, value)
	return nil
}

func runSettingsDelete(cmd *cobra.Command, args []string) error {
	repo, subject, closeFn, err := openSettings()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := repo.Delete(cmd.Context(), subject, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s removed %s\n", green("✓"), args[0])
	return nil
}
