package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/internal/mutation"
	"github.com/pitabwire/portico/internal/role"
	"github.com/pitabwire/portico/internal/searcher"
	"github.com/pitabwire/portico/internal/store"
	"github.com/pitabwire/portico/model"
)

var (
	listName          string
	listIncludeSystem bool
	listPageSize      int
	listAfter         string
	listOrderBy       string

	roleName        string
	roleAltLanguage string
	roleRights      []int
	roleBlocked     bool

	rolesCmd = &cobra.Command{
		Use:   "roles",
		Short: "Search and edit roles",
	}

	rolesListCmd = &cobra.Command{
		Use:   "list",
		Short: "List roles a page at a time",
		Args:  cobra.NoArgs,
		RunE:  runRolesList,
	}

	rolesShowCmd = &cobra.Command{
		Use:   "show <uuid>",
		Short: "Show a role and the permission catalog",
		Args:  cobra.ExactArgs(1),
		RunE:  runRolesShow,
	}

	rolesCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a role",
		Args:  cobra.NoArgs,
		RunE:  runRolesCreate,
	}

	rolesUpdateCmd = &cobra.Command{
		Use:   "update <uuid>",
		Short: "Change a role's name, alternative name, rights or blocked flag",
		Args:  cobra.ExactArgs(1),
		RunE:  runRolesUpdate,
	}

	rolesDeleteCmd = &cobra.Command{
		Use:   "delete <uuid>...",
		Short: "Delete one or more roles",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRolesDelete,
	}

	rolesDuplicateCmd = &cobra.Command{
		Use:   "duplicate <uuid>",
		Short: "Create a copy of a role",
		Args:  cobra.ExactArgs(1),
		RunE:  runRolesDuplicate,
	}
)

func init() {
	lf := rolesListCmd.Flags()
	lf.StringVar(&listName, "name", "", "only roles whose name contains this text")
	lf.BoolVar(&listIncludeSystem, "include-system", false, "include system roles")
	lf.IntVar(&listPageSize, "page-size", 0, "roles per page")
	lf.StringVar(&listAfter, "after", "", "cursor of the page to continue after")
	lf.StringVar(&listOrderBy, "order-by", "", "ordering attribute, prefix with - for descending")

	for _, c := range []*cobra.Command{rolesCreateCmd, rolesUpdateCmd, rolesDuplicateCmd} {
		f := c.Flags()
		f.StringVar(&roleName, "name", "", "role name")
		f.StringVar(&roleAltLanguage, "alt-language", "", "role name in the alternative language")
		f.IntSliceVar(&roleRights, "rights", nil, "comma separated right ids")
		f.BoolVar(&roleBlocked, "blocked", false, "block the role")
	}
	_ = rolesCreateCmd.MarkFlagRequired("name")

	rolesCmd.AddCommand(rolesListCmd, rolesShowCmd, rolesCreateCmd, rolesUpdateCmd, rolesDeleteCmd, rolesDuplicateCmd)
	rootCmd.AddCommand(rolesCmd)
}

// listFilters builds the active filters of roles list.
func listFilters(name string, includeSystem bool) model.Filters {
	filters := model.Filters{}
	if !includeSystem {
		filters["isSystem"] = model.Filter{ID: "isSystem", Value: false, Filter: "isSystem: false"}
	}
	if name = strings.TrimSpace(name); name != "" {
		filters["name"] = model.Filter{ID: "name", Value: name, Filter: graphql.StringArg("name_Icontains", name)}
	}
	return filters
}

func runRolesList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.alert()
	ctx := a.context(cmd.Context())

	fetch := searcher.FetcherFunc[model.Role](func(ctx context.Context, params []string) (model.Page[model.Role], error) {
		return a.roles.Search(ctx, a.store, params)
	})
	s := searcher.New[model.Role](role.DefaultSearcher(), fetch,
		searcher.WithDefaultPageSize(a.cfg.Searcher.DefaultPageSize),
		searcher.WithLogger(a.logger),
	)
	snap, err := s.Query(ctx, searcher.Query{
		Filters:  listFilters(listName, listIncludeSystem),
		PageSize: listPageSize,
		After:    listAfter,
		OrderBy:  listOrderBy,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, snap.Result)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UUID\tNAME\tSYSTEM\tBLOCKED\tRIGHTS")
	for _, r := range snap.Result.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.UUID, r.Name, yesNo(r.IsSystem), yesNo(r.IsBlocked), len(r.RoleRights))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n", gray(fmt.Sprintf("%d of %d roles", len(snap.Result.Items), snap.Result.TotalCount)))
	if snap.Result.PageInfo.HasNextPage {
		fmt.Fprintf(out, "%s --after %s\n", gray("next page:"), snap.Result.PageInfo.EndCursor)
	}
	return nil
}

func runRolesShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.alert()

	ed := role.NewEditor(a.roles, a.store)
	if err := ed.Load(a.context(cmd.Context()), a.store, args[0]); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{"role": ed.Role(), "catalog": ed.Catalog()})
	}
	printRole(out, ed.Role(), ed.Catalog())
	return nil
}

func printRole(w io.Writer, r model.Role, catalog []model.ModulePermissions) {
	fmt.Fprintf(w, "%s %s\n", cyan(r.Name), gray(r.UUID))
	if r.AltLanguage != "" {
		fmt.Fprintf(w, "  Alternative name: %s\n", r.AltLanguage)
	}
	fmt.Fprintf(w, "  System:  %s\n", yesNo(r.IsSystem))
	fmt.Fprintf(w, "  Blocked: %s\n", yesNo(r.IsBlocked))
	if r.ValidityFrom != nil {
		fmt.Fprintf(w, "  Valid from: %s\n", r.ValidityFrom.Format("2006-01-02"))
	}

	granted := model.NewRightSet(r.RoleRights...)
	for _, m := range catalog {
		fmt.Fprintf(w, "\n  %s\n", bold(m.ModuleName))
		for _, p := range m.Permissions {
			mark := gray("·")
			if granted.Has(p.PermsValue) {
				mark = green("✓")
			}
			fmt.Fprintf(w, "    %s %-40s %d\n", mark, p.PermsName, p.PermsValue)
		}
	}
}

func runRolesCreate(cmd *cobra.Command, _ []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.alert()
	ctx := a.context(cmd.Context())

	r := model.Role{
		Name:        roleName,
		AltLanguage: roleAltLanguage,
		IsBlocked:   roleBlocked,
		RoleRights:  roleRights,
	}
	if err := a.roles.Validate(ctx, a.store, r); err != nil {
		return err
	}

	ed := role.NewEditor(a.roles, a.store)
	if err := ed.Edit(func(x *model.Role) { *x = r }); err != nil {
		return err
	}
	_, out, err := ed.Save(ctx, a.store)
	if err != nil {
		return err
	}
	return printOutcome(cmd.OutOrStdout(), out)
}

func runRolesUpdate(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.alert()
	ctx := a.context(cmd.Context())

	ed := role.NewEditor(a.roles, a.store)
	if err := ed.Load(ctx, a.store, args[0]); err != nil {
		return err
	}
	if err := ed.Edit(func(x *model.Role) { applyRoleFlags(cmd, x) }); err != nil {
		return err
	}
	if err := a.roles.Validate(ctx, a.store, ed.Role()); err != nil {
		return err
	}

	c, out, err := ed.Save(ctx, a.store)
	if err != nil {
		return err
	}
	if c == nil {
		return printOutcome(cmd.OutOrStdout(), out)
	}
	return settle(ctx, a, c, cmd)
}

func runRolesDuplicate(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.alert()
	ctx := a.context(cmd.Context())

	ed := role.NewEditor(a.roles, a.store)
	if err := ed.LoadDuplicate(ctx, a.store, args[0]); err != nil {
		return err
	}
	if err := ed.Edit(func(x *model.Role) { applyRoleFlags(cmd, x) }); err != nil {
		return err
	}
	if err := a.roles.Validate(ctx, a.store, ed.Role()); err != nil {
		return err
	}
	_, out, err := ed.Save(ctx, a.store)
	if err != nil {
		return err
	}
	return printOutcome(cmd.OutOrStdout(), out)
}

func runRolesDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.alert()
	ctx := a.context(cmd.Context())

	if len(args) == 1 {
		ed := role.NewEditor(a.roles, a.store)
		if err := ed.Load(ctx, a.store, args[0]); err != nil {
			return err
		}
		c, err := ed.Delete(ctx, a.store)
		if err != nil {
			return err
		}
		return settle(ctx, a, c, cmd)
	}

	bulk := role.NewBulk(a.roles)
	if err := bulk.Load(ctx, a.store, args); err != nil {
		return err
	}
	c, err := bulk.Delete(a.store, a.store)
	if err != nil {
		return err
	}
	return settle(ctx, a, c, cmd)
}

// settle asks for confirmation and prints what the confirmed action did.
func settle(ctx context.Context, a *app, c *store.Confirmation, cmd *cobra.Command) error {
	result, declined, err := confirm(ctx, a.store, c, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if declined {
		fmt.Fprintln(out, gray("cancelled"))
		return nil
	}
	switch v := result.(type) {
	case *mutation.Outcome:
		return printOutcome(out, v)
	case []role.BulkResult:
		return printBulk(out, v)
	}
	return nil
}

func printBulk(w io.Writer, results []role.BulkResult) error {
	if jsonOutput {
		return printJSON(w, results)
	}
	for _, r := range results {
		fmt.Fprintf(w, "%-10s %s", statusColor(r.Status)(r.Status), r.Name)
		if r.Error != "" {
			fmt.Fprintf(w, "  %s", red(r.Error))
		}
		fmt.Fprintln(w)
	}
	return nil
}

func applyRoleFlags(cmd *cobra.Command, r *model.Role) {
	f := cmd.Flags()
	if f.Changed("name") {
		r.Name = roleName
	}
	if f.Changed("alt-language") {
		r.AltLanguage = roleAltLanguage
	}
	if f.Changed("rights") {
		r.RoleRights = roleRights
	}
	if f.Changed("blocked") {
		r.IsBlocked = roleBlocked
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
