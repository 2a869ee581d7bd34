package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ayusman/mudra/internal/store"
)

func newResponsesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "responses",
		Aliases: []string{"response"},
		Short:   "Manage the gesture to video mapping",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List configured responses",
			Args:  cobra.NoArgs,
			RunE:  withStore(listResponses),
		},
		&cobra.Command{
			Use:   "add <label> <resource>",
			Short: "Map a gesture label to a video, replacing any existing mapping",
			Args:  cobra.ExactArgs(2),
			RunE:  withStore(addResponse),
		},
		&cobra.Command{
			Use:   "remove <label>",
			Short: "Remove the response for a gesture label",
			Args:  cobra.ExactArgs(1),
			RunE:  withStore(removeResponse),
		},
	)
	return cmd
}

func withStore(fn func(cmd *cobra.Command, st *store.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(cmd, st, args)
	}
}

func listResponses(cmd *cobra.Command, st *store.Store, _ []string) error {
	responses, err := st.Responses().List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(responses) == 0 {
		fmt.Fprintln(out, "no responses configured")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL\tRESOURCE\tID")
	for _, r := range responses {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Label, r.Resource, r.ID)
	}
	return w.Flush()
}

func addResponse(cmd *cobra.Command, st *store.Store, args []string) error {
	label, resource := args[0], args[1]
	repo := st.Responses()

	existing, err := repo.GetByLabel(label)
	switch {
	case err == nil:
		existing.Resource = resource
		if err := repo.Update(existing); err != nil {
			return fmt.Errorf("update response: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "updated %s -> %s\n", label, resource)
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	if err := repo.Create(&store.Response{ID: uuid.New().String(), Label: label, Resource: resource}); err != nil {
		return fmt.Errorf("create response: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added %s -> %s\n", label, resource)
	return nil
}

func removeResponse(cmd *cobra.Command, st *store.Store, args []string) error {
	if err := st.Responses().DeleteByLabel(args[0]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no response for label %q", args[0])
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
	return nil
}
