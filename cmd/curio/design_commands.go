package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"curio/internal/api"
)

func newDesignCommand(ctx *commandContext) *cobra.Command {
	designCmd := &cobra.Command{
		Use:   "design",
		Short: "Browse and manage catalog designs",
	}

	designCmd.AddCommand(newDesignListCommand(ctx))
	designCmd.AddCommand(newDesignShowCommand(ctx))
	designCmd.AddCommand(newDesignWantCommand(ctx))
	designCmd.AddCommand(newDesignOverrideCommand(ctx))
	designCmd.AddCommand(newDesignMergeCommand(ctx))
	designCmd.AddCommand(newDesignSplitCommand(ctx))

	return designCmd
}

func newDesignListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog designs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			path := "/api/designs"
			if statusFilter != "" {
				path += "?status=" + url.QueryEscape(statusFilter)
			}
			var designs []api.DesignView
			if err := client.get(path, &designs); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, designs)
			}
			rows := make([][]string, 0, len(designs))
			for _, design := range designs {
				size := ""
				if design.SizeBytes > 0 {
					size = humanize.Bytes(uint64(design.SizeBytes))
				}
				rows = append(rows, []string{
					strconv.FormatInt(design.ID, 10),
					design.Title,
					design.Designer,
					design.Status,
					strings.Join(design.FileTypes, ","),
					size,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Title", "Designer", "Status", "Types", "Size"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by design status")
	return cmd
}

func newDesignShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <design-id>",
		Short: "Show a design with its sources",
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
			var detail struct {
				Design  api.DesignView   `json:"design"`
				Sources []api.SourceView `json:"sources"`
			}
			if err := client.get(fmt.Sprintf("/api/designs/%d", id), &detail); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, detail)
			}
			renderDesignDetail(cmd, detail.Design, detail.Sources)
			return nil
		},
	}
}

func renderDesignDetail(cmd *cobra.Command, design api.DesignView, sources []api.SourceView) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Design %d: %s\n", design.ID, design.Title)
	fmt.Fprintf(out, "  Designer: %s\n", design.Designer)
	fmt.Fprintf(out, "  Status:   %s\n", design.Status)
	if len(design.FileTypes) > 0 {
		fmt.Fprintf(out, "  Types:    %s\n", strings.Join(design.FileTypes, ", "))
	}
	if design.SizeBytes > 0 {
		fmt.Fprintf(out, "  Size:     %s\n", humanize.Bytes(uint64(design.SizeBytes)))
	}
	if design.Multicolor {
		fmt.Fprintln(out, "  Multicolor: yes")
	}
	if design.LibraryPath != "" {
		fmt.Fprintf(out, "  Library:  %s\n", design.LibraryPath)
	}
	if design.FamilyID != 0 {
		fmt.Fprintf(out, "  Family:   %d\n", design.FamilyID)
	}
	if len(design.Tags) > 0 {
		fmt.Fprintf(out, "  Tags:     %s\n", strings.Join(design.Tags, ", "))
	}

	if len(sources) == 0 {
		return
	}
	rows := make([][]string, 0, len(sources))
	for _, src := range sources {
		preferred := ""
		if src.IsPreferred {
			preferred = "*"
		}
		rows = append(rows, []string{
			strconv.FormatInt(src.ID, 10),
			src.Channel,
			src.SourceRef,
			strconv.Itoa(len(src.FileNames)),
			humanize.Bytes(uint64(src.TotalSizeBytes)),
			fmt.Sprintf("%.2f", src.LinkConfidence),
			preferred,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Source", "Channel", "Ref", "Files", "Size", "Confidence", "Preferred"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
}

func newDesignWantCommand(ctx *commandContext) *cobra.Command {
	var priority int

	cmd := &cobra.Command{
		Use:   "want <design-id>",
		Short: "Queue a design for download",
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
			var job api.JobView
			body := map[string]int{"priority": priority}
			if err := client.post(fmt.Sprintf("/api/designs/%d/want", id), body, &job); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Design %d queued for download (job %d)\n", id, job.ID)
			return nil
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "Download priority (higher runs first)")
	return cmd
}

func newDesignOverrideCommand(ctx *commandContext) *cobra.Command {
	var title string
	var designer string

	cmd := &cobra.Command{
		Use:   "override <design-id>",
		Short: "Set display title or designer overrides",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if title == "" && designer == "" {
				return fmt.Errorf("pass --title and/or --designer")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			body := map[string]string{"title": title, "designer": designer}
			if err := client.post(fmt.Sprintf("/api/designs/%d/overrides", id), body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Design %d updated\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Display title override")
	cmd.Flags().StringVar(&designer, "designer", "", "Designer override")
	return cmd
}

func newDesignMergeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <target-design-id> <source-id>...",
		Short: "Move provenance sources onto another design",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			sourceIDs, err := parseIDs(args[1:])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			body := map[string][]int64{"sourceIds": sourceIDs}
			if err := client.post(fmt.Sprintf("/api/designs/%d/merge", id), body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Merged %d sources into design %d\n", len(sourceIDs), id)
			return nil
		},
	}
}

func newDesignSplitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "split <design-id> <source-id>...",
		Short: "Split provenance sources into a new design",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			sourceIDs, err := parseIDs(args[1:])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var result struct {
				Design *api.DesignView `json:"design"`
			}
			body := map[string][]int64{"sourceIds": sourceIDs}
			if err := client.post(fmt.Sprintf("/api/designs/%d/split", id), body, &result); err != nil {
				return err
			}
			if result.Design == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to split")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Split %d sources into new design %d\n", len(sourceIDs), result.Design.ID)
			return nil
		},
	}
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
