package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/open-edge-platform/formula-installer/internal/descriptor"
	"github.com/open-edge-platform/formula-installer/internal/installer"
	"github.com/open-edge-platform/formula-installer/internal/utils/logger"
)

func createListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the formulae in the catalog",
		Args:  cobra.NoArgs,
		RunE:  executeList,
	}
}

func executeList(cmd *cobra.Command, args []string) error {
	cat := newCatalog()
	names, err := cat.Names()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, name := range names {
		entries, err := cat.Versions(name)
		if err != nil {
			logger.Logger().Warnf("%s: %v", name, err)
			continue
		}
		versions := make([]string, 0, len(entries))
		for _, e := range entries {
			versions = append(versions, e.Version)
		}
		fmt.Fprintf(out, "%s\t%s\n", name, strings.Join(versions, " "))
	}
	return nil
}

func createInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info FORMULA",
		Short: "Show a formula and its install state",
		Args:  cobra.ExactArgs(1),
		RunE:  executeInfo,
	}
}

func executeInfo(cmd *cobra.Command, args []string) error {
	d, err := newCatalog().Resolve(args[0])
	if err != nil {
		return err
	}
	p, err := newProcessor()
	if err != nil {
		return err
	}
	prefix, err := p.Prefix(d, installer.Options{})
	if err != nil {
		return err
	}
	receipt, _ := installer.ReadReceipt(prefix)
	printInfo(cmd.OutOrStdout(), d, prefix, receipt)
	return nil
}

func printInfo(out io.Writer, d *descriptor.PackageDescriptor, prefix string, receipt *installer.Receipt) {
	fmt.Fprintf(out, "%s: %s\n", d.ID(), d.Desc)
	if d.Homepage != "" {
		fmt.Fprintln(out, d.Homepage)
	}
	if d.License != "" {
		fmt.Fprintf(out, "License: %s\n", d.License)
	}
	if d.HasSource() {
		fmt.Fprintf(out, "Source: %s\n", d.URL)
	}
	if d.Head != nil {
		fmt.Fprintf(out, "Head: %s\n", d.Head.URL)
	}
	if len(d.DependsOn) > 0 {
		fmt.Fprintf(out, "Requires: %s\n", strings.Join(d.DependsOn, ", "))
	}
	if len(d.Resources) > 0 {
		fmt.Fprintf(out, "Resources (%d):\n", len(d.Resources))
		for _, r := range d.SortedResources() {
			fmt.Fprintf(out, "  %s\t%s\n", r.Name, r.URL)
		}
	}

	if receipt == nil {
		fmt.Fprintln(out, "Not installed")
		return
	}
	fmt.Fprintf(out, "Installed: %s (%s)\n", prefix, humanize.Time(receipt.InstalledAt))
	for _, w := range receipt.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", w)
	}
}

func createValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate formula descriptor files",
		Long: `Validate checks each descriptor file against the descriptor schema and the
rules a schema cannot express, such as duplicate resource names and paths
that leave the source tree.`,
		Args: cobra.MinimumNArgs(1),
		RunE: executeValidate,
	}
}

func executeValidate(cmd *cobra.Command, args []string) error {
	var failed []string
	for _, path := range args {
		d, err := descriptor.LoadFile(path)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			failed = append(failed, path)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s is valid\n", path, d.ID())
	}
	if len(failed) > 0 {
		return errors.New(humanize.Comma(int64(len(failed))) + " invalid descriptor(s)")
	}
	return nil
}
