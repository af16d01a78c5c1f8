package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"curio/internal/api"
)

func newFamilyCommand(ctx *commandContext) *cobra.Command {
	familyCmd := &cobra.Command{
		Use:   "family",
		Short: "Inspect and manage variant families",
	}

	familyCmd.AddCommand(newFamilyListCommand(ctx))
	familyCmd.AddCommand(newFamilyShowCommand(ctx))
	familyCmd.AddCommand(newFamilyGroupCommand(ctx))
	familyCmd.AddCommand(newFamilyDissolveCommand(ctx))

	return familyCmd
}

func newFamilyListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List variant families",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var families []api.FamilyView
			if err := client.get("/api/families", &families); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, families)
			}
			rows := make([][]string, 0, len(families))
			for _, fam := range families {
				rows = append(rows, []string{
					strconv.FormatInt(fam.ID, 10),
					fam.Name,
					fam.Method,
					fmt.Sprintf("%.2f", fam.Confidence),
					strconv.Itoa(len(fam.Members)),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Name", "Method", "Confidence", "Members"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
}

func newFamilyShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <family-id>",
		Short: "Show a family and its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var fam api.FamilyView
			if err := client.get(fmt.Sprintf("/api/families/%d", id), &fam); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, fam)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Family %d: %s (%s, %.2f)\n", fam.ID, fam.Name, fam.Method, fam.Confidence)
			rows := make([][]string, 0, len(fam.Members))
			for _, member := range fam.Members {
				rows = append(rows, []string{
					strconv.FormatInt(member.ID, 10),
					member.Title,
					member.Designer,
					member.Status,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Title", "Designer", "Status"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newFamilyGroupCommand(ctx *commandContext) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "group <design-id>...",
		Short: "Group designs into a manual family",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			designIDs, err := parseIDs(args)
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var fam api.FamilyView
			body := map[string]any{"name": name, "designIds": designIDs}
			if err := client.post("/api/families", body, &fam); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, fam)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created family %d with %d members\n", fam.ID, len(designIDs))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Family name (defaults to the first member's title)")
	return cmd
}

func newFamilyDissolveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dissolve <family-id>",
		Short: "Dissolve a family, detaching its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.post(fmt.Sprintf("/api/families/%d/dissolve", id), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Family %d dissolved\n", id)
			return nil
		},
	}
}
