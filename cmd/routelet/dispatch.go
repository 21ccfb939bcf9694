package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/routelet/pkg/coordinator"
	"github.com/jingkaihe/routelet/pkg/engine"
	"github.com/jingkaihe/routelet/pkg/handlers"
	"github.com/jingkaihe/routelet/pkg/presenter"
	"github.com/jingkaihe/routelet/pkg/registry"
	dispatchtypes "github.com/jingkaihe/routelet/pkg/types/dispatch"
)

type DispatchConfig struct {
	Handler string
	Files   []string
	Tools   []string
	Execute bool
	Yes     bool
	Format  string
}

func NewDispatchConfig() *DispatchConfig {
	return &DispatchConfig{
		Format: "table",
	}
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch [request text...]",
	Short: "Resolve a request to handlers and optionally execute them",
	Long: `Resolve a request against the registered handlers. With --handler the
target handler is dispatched explicitly, bypassing scoring; otherwise the
request text and execution context are scored against every handler's
triggers and the best agent wins proactively.

Examples:
  routelet dispatch "design a gRPC service with protobuf"
  routelet dispatch --handler grpc-expert "review my proto"
  routelet dispatch --file src/App.tsx "tidy up this component" --execute
  routelet dispatch --format json "add an openapi spec"`,
	Run: func(cmd *cobra.Command, args []string) {
		config := getDispatchConfigFromFlags(cmd)
		if err := runDispatch(cmd.Context(), config, args); err != nil {
			presenter.Error(err, "Dispatch failed")
			os.Exit(1)
		}
	},
}

func init() {
	defaults := NewDispatchConfig()
	dispatchCmd.Flags().String("handler", defaults.Handler, "Dispatch explicitly to this handler id")
	dispatchCmd.Flags().StringSlice("file", defaults.Files, "Active file path (repeatable)")
	dispatchCmd.Flags().StringSlice("tool", defaults.Tools, "Recently used tool name (repeatable)")
	dispatchCmd.Flags().Bool("execute", defaults.Execute, "Execute the dispatch decision")
	dispatchCmd.Flags().BoolP("yes", "y", defaults.Yes, "Auto-confirm suggested handlers")
	dispatchCmd.Flags().String("format", defaults.Format, "Output format (table or json)")
	rootCmd.AddCommand(dispatchCmd)
}

func getDispatchConfigFromFlags(cmd *cobra.Command) *DispatchConfig {
	config := NewDispatchConfig()
	if handler, err := cmd.Flags().GetString("handler"); err == nil {
		config.Handler = handler
	}
	if files, err := cmd.Flags().GetStringSlice("file"); err == nil {
		config.Files = files
	}
	if tools, err := cmd.Flags().GetStringSlice("tool"); err == nil {
		config.Tools = tools
	}
	if execute, err := cmd.Flags().GetBool("execute"); err == nil {
		config.Execute = execute
	}
	if yes, err := cmd.Flags().GetBool("yes"); err == nil {
		config.Yes = yes
	}
	if format, err := cmd.Flags().GetString("format"); err == nil {
		config.Format = format
	}
	return config
}

func runDispatch(ctx context.Context, config *DispatchConfig, args []string) error {
	snap := loadSnapshot(ctx)
	eng := engine.New(snap, engineOptions())

	req := dispatchtypes.Request{
		Text:              strings.Join(args, " "),
		ExplicitHandlerID: config.Handler,
	}

	res, err := eng.Dispatch(ctx, req, buildExecContext(config))
	if err != nil {
		return err
	}

	if err := printDecision(res, config.Format); err != nil {
		return err
	}

	if !config.Execute {
		return nil
	}

	confirmSuggestions(res, config.Yes)

	report, err := eng.Execute(ctx, res, bodyRunners(snap))
	printReport(report)
	return err
}

func buildExecContext(config *DispatchConfig) dispatchtypes.ExecContext {
	execCtx := dispatchtypes.ExecContext{
		ActiveFiles: config.Files,
		RecentTools: config.Tools,
	}

	for _, file := range config.Files {
		content, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		if execCtx.FileContents == nil {
			execCtx.FileContents = make(map[string]string)
		}
		execCtx.FileContents[file] = string(content)
	}

	return execCtx
}

func printDecision(res *engine.Result, format string) error {
	switch format {
	case "json":
		out, err := json.MarshalIndent(res.Decision, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to encode decision")
		}
		fmt.Println(string(out))
		return nil
	case "table":
		printDecisionTable(res)
		return nil
	default:
		return errors.Errorf("unknown format %q (expected table or json)", format)
	}
}

func printDecisionTable(res *engine.Result) {
	if res.Decision.HasWinner() {
		mode := string(dispatchtypes.ModeExplicit)
		if res.Plan.Agent != nil {
			mode = string(res.Plan.Agent.Mode)
		}
		presenter.Success(fmt.Sprintf("Agent: %s (mode: %s, tier: %s)", res.Decision.WinningAgent, mode, res.Decision.ComputeTier))
	} else {
		presenter.Info("No agent cleared the activation threshold")
	}

	if len(res.Decision.ActiveSkills) > 0 {
		presenter.Info("Skills: " + strings.Join(res.Decision.ActiveSkills, ", "))
	}

	scored := make([]dispatchtypes.MatchResult, 0, len(res.Decision.Results))
	for _, r := range res.Decision.Results {
		if len(r.Matched) > 0 {
			scored = append(scored, r)
		}
	}
	if len(scored) == 0 {
		return
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].HandlerID < scored[j].HandlerID
	})

	presenter.Separator()
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HANDLER\tSCORE\tMATCHED WEIGHT\tRULES")
	for _, r := range scored {
		rules := make([]string, 0, len(r.Matched))
		for _, m := range r.Matched {
			rules = append(rules, fmt.Sprintf("%s:%q", m.Rule.Kind, m.Rule.Pattern))
		}
		fmt.Fprintf(tw, "%s\t%.3f\t%.1f\t%s\n", r.HandlerID, r.Score, r.MatchedWeight, strings.Join(rules, " "))
	}
	tw.Flush()
}

// confirmSuggestions resolves pending Suggested invocations: auto-confirm
// with --yes, otherwise ask interactively.
func confirmSuggestions(res *engine.Result, yes bool) {
	agent := res.Plan.Agent
	if agent == nil || !agent.Confirm {
		return
	}

	if yes {
		res.Confirm()
		return
	}

	answer := presenter.Prompt(fmt.Sprintf("Run suggested handler %q?", agent.HandlerID), "y", "N")
	if strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes") {
		res.Confirm()
	}
}

// bodyRunners registers a runner per handler that renders the manifest body.
// Real deployments plug their own Runner implementations here; the body is
// opaque to the engine either way.
func bodyRunners(snap *registry.Snapshot) *coordinator.Runners {
	runners := coordinator.NewRunners(nil)
	for _, desc := range snap.All() {
		runners.Register(desc.ID, bodyRunner(desc))
	}
	return runners
}

func bodyRunner(desc *handlers.Descriptor) dispatchtypes.RunnerFunc {
	return func(_ context.Context, _ dispatchtypes.HandlerInput) (dispatchtypes.HandlerOutput, error) {
		return dispatchtypes.HandlerOutput{
			Content: desc.Body,
			Metadata: map[string]string{
				"handler": desc.ID,
				"kind":    string(desc.Kind),
			},
		}, nil
	}
}

func printReport(report coordinator.Report) {
	if report.AgentOutput != nil {
		presenter.Separator()
		fmt.Println(report.AgentOutput.Content)
	}

	skillIDs := make([]string, 0, len(report.SkillOutputs))
	for id := range report.SkillOutputs {
		skillIDs = append(skillIDs, id)
	}
	sort.Strings(skillIDs)
	for _, id := range skillIDs {
		presenter.Section("skill: " + id)
		fmt.Println(report.SkillOutputs[id].Content)
	}
}
