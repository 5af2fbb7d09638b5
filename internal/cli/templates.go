package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/refinery/internal/prompt"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List and install prompt templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in templates and where each would be loaded from",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			if cfg, err := loadConfig(); err == nil {
				dir = cfg.Pipeline.TemplateDir
			}
		}

		lib, err := prompt.LoadLibrary(dir, prompt.BuiltinNames())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TEMPLATE\tSOURCE")
		for _, name := range lib.Names() {
			fmt.Fprintf(w, "%s\t%s\n", name, lib.Source(name))
		}
		return w.Flush()
	},
}

var templatesInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Copy the built-in templates into a directory for editing",
	Long:  `Writes each built-in template to --dir. Existing files are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		written, err := prompt.InstallBuiltinTemplates(dir)
		for _, name := range written {
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", name)
		}
		if err != nil {
			return err
		}
		if len(written) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "All templates already present in %s.\n", dir)
		}
		return nil
	},
}

func init() {
	templatesListCmd.Flags().String("dir", "", "template directory (defaults to the pipeline's template_dir)")
	templatesInstallCmd.Flags().String("dir", "templates", "directory to install into")
	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesInstallCmd)
}
