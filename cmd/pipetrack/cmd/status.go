package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bianoble/pipetrack/pkg/pipetrack"
)

var (
	statusWithDeps    bool
	statusRevs        []string
	statusAllBranches bool
	statusAllTags     bool
	statusAllCommits  bool
)

var statusCmd = &cobra.Command{
	Use:   "status [target...]",
	Short: "Show stages that changed since they were committed",
	Long: `Reports every stage whose declaration, dependencies or outputs differ
from what was last committed, and outputs missing from the cache. With no
targets all stages are inspected.

--rev, --all-branches, --all-tags and --all-commits repeat the report for
git revisions after the working tree. Content of dependencies and outputs is
only compared in the working tree.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		branch := pipetrack.BranchOptions{
			Revs:        statusRevs,
			AllBranches: statusAllBranches,
			AllTags:     statusAllTags,
			AllCommits:  statusAllCommits,
		}
		results, err := client.StatusRevisions(cmd.Context(), args, pipetrack.StatusOptions{WithDeps: statusWithDeps}, branch)
		if err != nil {
			return err
		}

		var errs []pipetrack.TargetError
		for _, res := range results {
			if len(results) > 1 {
				info("%s:", res.View)
			}
			printStatus(res, len(results) > 1)
			errs = append(errs, res.Errors...)
		}
		return reportErrors("status", errs)
	},
}

func printStatus(res *pipetrack.StatusResult, indent bool) {
	prefix := ""
	if indent {
		prefix = "\t"
	}
	if len(res.Stages) == 0 {
		info("%sPipelines are up to date.", prefix)
		return
	}
	for _, st := range res.Stages {
		fmt.Printf("%s%s:\n", prefix, st.Stage)
		if st.ChangedDeclaration {
			fmt.Printf("%s\t%s\n", prefix, paint("changed", "changed declaration"))
		}
		if st.AlwaysChanged {
			fmt.Printf("%s\talways changed\n", prefix)
		}
		printEdges(prefix, "changed deps", st.Deps)
		printEdges(prefix, "changed outs", st.Outs)
		if len(st.NotInCache) > 0 {
			fmt.Printf("%s\tnot in cache:\n", prefix)
			for _, p := range st.NotInCache {
				fmt.Printf("%s\t\t%s\n", prefix, paint("not in cache", p))
			}
		}
	}
}

func printEdges(prefix, title string, edges []pipetrack.EdgeStatus) {
	if len(edges) == 0 {
		return
	}
	fmt.Printf("%s\t%s:\n", prefix, title)
	for _, e := range edges {
		fmt.Printf("%s\t\t%-14s %s\n", prefix, paint(e.State, e.State+":"), e.Path)
	}
}

func init() {
	statusCmd.Flags().BoolVar(&statusWithDeps, "with-deps", false, "also inspect every stage the targets depend on")
	statusCmd.Flags().StringArrayVar(&statusRevs, "rev", nil, "also inspect this git revision (repeatable)")
	statusCmd.Flags().BoolVar(&statusAllBranches, "all-branches", false, "also inspect every branch")
	statusCmd.Flags().BoolVar(&statusAllTags, "all-tags", false, "also inspect every tag")
	statusCmd.Flags().BoolVar(&statusAllCommits, "all-commits", false, "also inspect every commit")
	rootCmd.AddCommand(statusCmd)
}
