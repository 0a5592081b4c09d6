package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tgrelay/internal/config"
	"github.com/nextlevelbuilder/tgrelay/internal/routing"
	"github.com/nextlevelbuilder/tgrelay/internal/store"
)

func routesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Inspect the webhook route table",
	}
	cmd.AddCommand(routesGroupsCmd())
	cmd.AddCommand(routesListCmd())
	return cmd
}

func routesGroupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List every group that has at least one route",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRouteStore(cmd.Context(), func(ctx context.Context, s store.RouteStore) error {
				groups, err := s.ListGroups(ctx)
				if err != nil {
					return err
				}
				for _, g := range groups {
					fmt.Println(g)
				}
				fmt.Printf("%d group(s)\n", len(groups))
				return nil
			})
		},
	}
}

func routesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <group-id>",
		Short: "List the routes of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid group id %q: %w", args[0], err)
			}
			groupID := routing.NormalizeGroupID(id)

			return withRouteStore(cmd.Context(), func(ctx context.Context, s store.RouteStore) error {
				routes, err := s.ListRoutes(ctx, groupID)
				if err != nil {
					return err
				}
				fmt.Printf("Group %d\n", groupID)
				for _, r := range routes {
					fmt.Printf("  %-12s %s\n", topicLabel(r.TopicID), r.Endpoint)
				}
				if len(routes) == 0 {
					fmt.Println("  (no routes)")
				}
				return nil
			})
		},
	}
}

func topicLabel(topicID int64) string {
	switch topicID {
	case store.WildcardTopic:
		return "*"
	case store.NoTopic:
		return "(none)"
	default:
		return strconv.FormatInt(topicID, 10)
	}
}

func withRouteStore(ctx context.Context, fn func(context.Context, store.RouteStore) error) error {
	setupLogging()
	cfg, err := config.Load(config.ResolvePath(cfgFile))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s, err := openRouteStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}
