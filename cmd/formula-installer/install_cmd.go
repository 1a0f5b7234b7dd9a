package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/formula-installer/internal/config"
	"github.com/open-edge-platform/formula-installer/internal/descriptor"
	"github.com/open-edge-platform/formula-installer/internal/installer"
	"github.com/open-edge-platform/formula-installer/internal/utils/logger"
)

// Install command flags
var (
	installHead     bool
	installVersion  string
	installPrefix   string
	installForce    bool
	installSkipTest bool
)

func createInstallCommand() *cobra.Command {
	installCmd := &cobra.Command{
		Use:   "install [flags] FORMULA",
		Short: "Install a formula into its prefix",
		Long: `Install resolves FORMULA, downloads and verifies the source archive and
every dependency resource, stages the resources into <prefix>/vendor,
installs the tool and its completions and runs the smoke test.

FORMULA is a descriptor file or name[@version-or-constraint].

Exit status is 0 on success, 1 when nothing was installed and 2 when the
install is in place but a completion could not be copied or the smoke
test failed.`,
		Args: cobra.ExactArgs(1),
		RunE: executeInstall,
	}

	installCmd.Flags().BoolVar(&installHead, "head", false,
		"Install the development head instead of the pinned release")
	installCmd.Flags().StringVar(&installVersion, "version", "",
		"Version or constraint to install (same as FORMULA@VERSION)")
	installCmd.Flags().StringVar(&installPrefix, "prefix", "",
		"Install into this directory instead of <cellar>/<name>/<version>")
	installCmd.Flags().BoolVar(&installForce, "force", false,
		"Reinstall even if the same source is already installed")
	installCmd.Flags().BoolVar(&installSkipTest, "skip-test", false,
		"Do not run the smoke test after installing")
	return installCmd
}

func executeInstall(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	ref := args[0]
	if installVersion != "" {
		ref += "@" + installVersion
	}
	d, err := newCatalog().Resolve(ref)
	if err != nil {
		return err
	}
	p, err := newProcessor()
	if err != nil {
		return err
	}

	result, err := p.Install(cmd.Context(), d, installer.Options{
		Head:     installHead,
		Prefix:   installPrefix,
		Force:    installForce,
		SkipTest: installSkipTest,
	})
	if err != nil {
		return fmt.Errorf("installing %s: %w", d.ID(), err)
	}

	if result.AlreadyInstalled {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is already installed in %s (use --force to reinstall)\n", d.ID(), result.Prefix)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s installed in %s\n", d.ID(), result.Prefix)
	if result.Partial() {
		log.Errorf("%s installed with problems", d.ID())
		return &exitError{code: exitPartial, err: result.Err()}
	}
	return nil
}

// Test command flags
var (
	testHead   bool
	testPrefix string
)

func createTestCommand() *cobra.Command {
	testCmd := &cobra.Command{
		Use:   "test [flags] FORMULA",
		Short: "Run the smoke test of an installed formula",
		Long: `Test runs the smoke test declared by FORMULA against its install and
exits with the status of the test command.`,
		Args: cobra.ExactArgs(1),
		RunE: executeTest,
	}
	testCmd.Flags().BoolVar(&testHead, "head", false,
		"Test the head install instead of the release")
	testCmd.Flags().StringVar(&testPrefix, "prefix", "",
		"Test the install in this directory instead of the default prefix")
	return testCmd
}

func executeTest(cmd *cobra.Command, args []string) error {
	d, err := newCatalog().Resolve(args[0])
	if err != nil {
		return err
	}
	p, err := newProcessor()
	if err != nil {
		return err
	}
	prefix, err := p.Prefix(d, installer.Options{Head: testHead, Prefix: testPrefix})
	if err != nil {
		return err
	}
	code, err := p.Test(cmd.Context(), d, prefix)
	if err != nil {
		var verr *installer.VerificationError
		if errors.As(err, &verr) {
			return &exitError{code: code, err: err}
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: smoke test passed\n", d.ID())
	return nil
}

func createFetchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch FORMULA...",
		Short: "Download and verify formula sources without installing",
		Long: `Fetch downloads the source archive and every dependency resource of each
FORMULA into the download cache and verifies their checksums. A report of
the fetched URLs is written into the work directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: executeFetch,
	}
}

func executeFetch(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	cat := newCatalog()
	var descriptors []*descriptor.PackageDescriptor
	for _, ref := range args {
		d, err := cat.Resolve(ref)
		if err != nil {
			return err
		}
		descriptors = append(descriptors, d)
	}
	p, err := newProcessor()
	if err != nil {
		return err
	}

	for _, d := range descriptors {
		results, err := p.FetchOnly(cmd.Context(), d)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", d.ID(), err)
		}
		for _, r := range results {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", r.Name, r.Digest, r.Path)
		}
	}

	helpers := config.NewConfigHelpers(config.GlConfig)
	workDir, err := helpers.WorkDir()
	if err != nil {
		return err
	}
	logger.ReportPath = workDir
	path, err := logger.FetchedReport.WriteToFile()
	if err != nil {
		log.Warnf("writing fetch report: %v", err)
		return nil
	}
	log.Infof("fetch report written to %s", path)
	return nil
}

// Uninstall command flags
var (
	uninstallHead   bool
	uninstallPrefix string
)

func createUninstallCommand() *cobra.Command {
	uninstallCmd := &cobra.Command{
		Use:   "uninstall [flags] FORMULA",
		Short: "Remove an installed formula",
		Long: `Uninstall removes the prefix of FORMULA and the completions its install
receipt lists outside of it.`,
		Args: cobra.ExactArgs(1),
		RunE: executeUninstall,
	}
	uninstallCmd.Flags().BoolVar(&uninstallHead, "head", false,
		"Remove the head install instead of the release")
	uninstallCmd.Flags().StringVar(&uninstallPrefix, "prefix", "",
		"Remove the install in this directory instead of the default prefix")
	return uninstallCmd
}

func executeUninstall(cmd *cobra.Command, args []string) error {
	d, err := newCatalog().Resolve(args[0])
	if err != nil {
		return err
	}
	p, err := newProcessor()
	if err != nil {
		return err
	}
	prefix, err := p.Prefix(d, installer.Options{Head: uninstallHead, Prefix: uninstallPrefix})
	if err != nil {
		return err
	}
	if err := p.Uninstall(d, prefix); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s from %s\n", d.ID(), prefix)
	return nil
}
