package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/branchd-dev/authflow/internal/router"
)

// NewOpenCmd creates the open command
func NewOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open [location]",
		Short: "Resolve a screen location through the route guard",
		Long: `Resolve a screen location through the route guard and print where the
interface would land for the current sign-in status.

Without a location, pick one of the known routes interactively.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *App) error {
				location := ""
				if len(args) == 1 {
					location = args[0]
				} else {
					route, err := promptRouteSelection(app.Guard.Table())
					if err != nil {
						return err
					}
					location = route.Path
				}
				return runOpen(app, cmd.OutOrStdout(), location)
			})
		},
	}
}

func runOpen(app *App, out io.Writer, location string) error {
	landed, err := app.Navigator.Go(location)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", location, err)
	}

	if landed != location {
		fmt.Fprintf(out, "%s -> %s\n", location, landed)
	} else {
		fmt.Fprintln(out, landed)
	}

	path, _, _ := strings.Cut(landed, "?")
	if route, ok := app.Guard.Table().Lookup(path); ok {
		fmt.Fprintf(out, "  Screen: %s (%s)\n", route.Name, route.Access)
	}
	return nil
}

// promptRouteSelection shows an interactive prompt for the user to pick a route
func promptRouteSelection(table *router.Table) (*router.Route, error) {
	if len(table.Routes) == 0 {
		return nil, fmt.Errorf("no routes configured")
	}

	type routeOption struct {
		Label string
		Route *router.Route
	}

	options := make([]routeOption, len(table.Routes))
	for i := range table.Routes {
		route := &table.Routes[i]
		options[i] = routeOption{
			Label: fmt.Sprintf("%s %s [%s]", route.Name, route.Path, route.Access),
			Route: route,
		}
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "{{ .Label | green }}",
	}

	prompt := promptui.Select{
		Label:     "Select a screen",
		Items:     options,
		Templates: templates,
		Size:      10,
	}

	index, _, err := prompt.Run()
	if err != nil {
		return nil, fmt.Errorf("screen selection cancelled: %w", err)
	}

	return options[index].Route, nil
}
