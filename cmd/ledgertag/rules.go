package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ledgertag/internal/cli"
	"ledgertag/internal/config"
	"ledgertag/internal/model"
	"ledgertag/internal/pattern"
	"ledgertag/internal/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage categorization rules",
	}
	cmd.AddCommand(rulesListCmd(), rulesAddCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the stored categorization rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := rules.NewStore(config.ExpandPath(viper.GetString("rules.store_path")))
			set, err := store.Load()
			if err != nil {
				return err
			}
			if len(set.Rules) == 0 {
				fmt.Println(cli.SubtleStyle.Render("No rules defined"))
				return nil
			}

			for _, rule := range set.Rules {
				_, categoryName := rule.Category()
				fmt.Printf("%s %s\n", cli.TitleStyle.Render(rule.Name), cli.SubtleStyle.Render(fmt.Sprintf("(%s, v%d)", rule.ID, rule.Version)))
				for _, p := range rule.Patterns {
					state := ""
					if !p.Enabled {
						state = " [disabled]"
					}
					fmt.Printf("  %s  %s priority %d%s\n", p.Pattern, p.Strategy, p.Priority, state)
				}
				if categoryName != "" {
					fmt.Printf("  %s %s\n", cli.SubtleStyle.Render("→"), categoryName)
				}
			}
			return nil
		},
	}
}

func rulesAddCmd() *cobra.Command {
	var (
		id       string
		name     string
		strategy string
		priority int
	)

	cmd := &cobra.Command{
		Use:   "add <pattern> <category-name>",
		Short: "Add a categorization rule",
		Long: `Adds a rule mapping a payee pattern to a category. The match strategy
is detected from the pattern shape (trailing * for prefix, * on both
ends for contains, regex metacharacters for regex) unless --strategy
overrides it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pat, categoryName := args[0], args[1]

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			categories, err := app.ledger.FetchCategories(ctx, app.budgetID)
			if err != nil {
				return fmt.Errorf("fetching categories: %w", err)
			}
			category := findCategory(categories, categoryName)
			if category == nil {
				return fmt.Errorf("no category matching %q", categoryName)
			}

			matchStrategy := pattern.DetectStrategy(pat)
			if strategy != "" {
				matchStrategy = model.MatchStrategy(strategy)
			}
			if id == "" {
				id = uuid.NewString()
			}
			if name == "" {
				name = strings.TrimRight(pat, "*")
			}

			rule := model.Rule{
				Name: name,
				Patterns: []model.PatternConfig{{
					Pattern:  pat,
					Strategy: matchStrategy,
					Priority: priority,
					Enabled:  true,
				}},
				Actions: []model.RuleAction{{
					Type:         "categorize",
					CategoryID:   category.ID,
					CategoryName: category.Name,
				}},
			}

			result, err := app.ruleStore.Update(id, rule, rules.UpdateOptions{
				Validate:        true,
				CreateIfMissing: true,
			})
			if err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Rule %s v%d: %s (%s) → %s", id, result.Version, pat, matchStrategy, category.Name)))
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Rule id (generated when omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Rule name (derived from the pattern when omitted)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Match strategy: exact, prefix, contains, regex")
	cmd.Flags().IntVar(&priority, "priority", 0, "Pattern priority, higher wins confidence boosts")
	return cmd
}
