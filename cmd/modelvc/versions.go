package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rpattn/modelvc/internal/domain"
	"github.com/rpattn/modelvc/internal/repository"
)

var (
	commitMessage string
	diffFrom      int
	diffTo        int
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the default entities of an application",
	Args:  cobra.NoArgs,
	RunE: withEnv(func(cmd *cobra.Command, args []string, rt *env) error {
		app, err := appID()
		if err != nil {
			return err
		}
		user, err := currentUser()
		if err != nil {
			return err
		}
		created, err := rt.service.CreateDefaultEntities(cmd.Context(), app, user)
		if err != nil {
			return err
		}
		for _, e := range created {
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", e.Name, e.ID)
		}
		return nil
	}),
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List the entities with uncommitted changes",
	Long:  `List entities whose draft differs from their latest committed version. Entities locked by another user are skipped.`,
	Args:  cobra.NoArgs,
	RunE: withEnv(func(cmd *cobra.Command, args []string, rt *env) error {
		app, err := appID()
		if err != nil {
			return err
		}
		user, err := currentUser()
		if err != nil {
			return err
		}
		changes, err := rt.service.GetChangedEntities(cmd.Context(), app, user.ID)
		if err != nil {
			return err
		}
		return printChanges(cmd.OutOrStdout(), changes)
	}),
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit every pending change of an application",
	Args:  cobra.NoArgs,
	RunE: withEnv(func(cmd *cobra.Command, args []string, rt *env) error {
		app, err := appID()
		if err != nil {
			return err
		}
		user, err := currentUser()
		if err != nil {
			return err
		}
		result, err := rt.service.Commit(cmd.Context(), app, user, commitMessage)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "commit %s\n", result.Commit.ID)
		return printChanges(cmd.OutOrStdout(), result.Changes)
	}),
}

var discardCmd = &cobra.Command{
	Use:   "discard [entity-id]",
	Short: "Reset an entity draft to its latest committed version",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, rt *env) error {
		entityID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid entity id: %w", err)
		}
		user, err := currentUser()
		if err != nil {
			return err
		}
		e, err := rt.service.DiscardPendingChanges(cmd.Context(), entityID, user.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "discarded pending changes of %s\n", e.Name)
		return nil
	}),
}

var diffCmd = &cobra.Command{
	Use:   "diff [entity-id]",
	Short: "Show a unified diff between two versions of an entity",
	Long: `Compare two versions of an entity. By default the latest committed version is compared
with the draft; --from and --to pick version numbers explicitly (0 is the draft).`,
	Args: cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, rt *env) error {
		entityID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid entity id: %w", err)
		}
		ctx := cmd.Context()
		include := repository.VersionInclude{Fields: true, Permissions: true}

		var base *domain.EntityVersion
		from := diffFrom
		if from < 0 {
			committed, err := rt.service.GetVersions(ctx, repository.VersionFilter{
				EntityIDs:    []uuid.UUID{entityID},
				ExcludeDraft: true,
			}, include)
			if err != nil {
				return err
			}
			if n := len(committed); n > 0 {
				base = &committed[n-1]
				from = base.VersionNumber
			}
		} else {
			v, err := rt.service.GetVersion(ctx, entityID, from, include)
			if err != nil {
				return err
			}
			base = &v
		}

		target, err := rt.service.GetVersion(ctx, entityID, diffTo, include)
		if err != nil {
			return err
		}

		out, err := domain.DiffEntityVersions(versionLabel(from), base, versionLabel(diffTo), &target)
		if err != nil {
			return err
		}
		_, err = io.WriteString(cmd.OutOrStdout(), out)
		return err
	}),
}

func versionLabel(n int) string {
	if n < 0 {
		return "empty"
	}
	if n == domain.CurrentVersionNumber {
		return "draft"
	}
	return "v" + strconv.Itoa(n)
}

func printChanges(w io.Writer, changes []domain.EntityPendingChange) error {
	if len(changes) == 0 {
		_, err := fmt.Fprintln(w, "no pending changes")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tENTITY\tVERSION\tID")
	for _, c := range changes {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.Action, c.Resource.Name, c.VersionNumber, c.ResourceID)
	}
	return tw.Flush()
}

func init() {
	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "Commit message")
	diffCmd.Flags().IntVar(&diffFrom, "from", -1, "Base version number, defaults to the latest committed version")
	diffCmd.Flags().IntVar(&diffTo, "to", domain.CurrentVersionNumber, "Target version number")
}
