package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/llm-relay/backend/internal/analysis/chainage"
	"github.com/zhouzirui/llm-relay/backend/internal/service/agent"
	"github.com/zhouzirui/llm-relay/backend/internal/service/ai"
)

// modelFactory overrides provider construction in tests.
var modelFactory ai.ModelFactory

// NewModelsCmd lists the allow-listed models of the configured provider.
func NewModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models sessions may select",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"provider": cfg.AI.Provider,
					"default":  cfg.AI.Model,
					"models":   cfg.AI.Models,
				})
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "MODEL ID\tPROVIDER\tDEFAULT")
			fmt.Fprintln(w, "--------\t--------\t-------")
			for _, name := range cfg.AI.Models {
				mark := ""
				if name == cfg.AI.Model {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, cfg.AI.Provider, mark)
			}
			return w.Flush()
		},
	}
}

// NewRouteCmd prints the keyword routing decision without calling a model.
func NewRouteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <text>",
		Short: "Show which role the keyword policy picks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision := agent.KeywordRouter{}.Route(cmd.Context(), strings.Join(args, " "))
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), decision)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", color.CyanString("%s", decision.Role), decision.Source)
			return nil
		},
	}
}

// NewPingCmd runs the connection test against the provider.
func NewPingCmd() *cobra.Command {
	var modelName, apiKey string
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Test the credential and model with a short request",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, modelFactory)
			if err != nil {
				return err
			}
			name, err := cfg.AI.ResolveModel(modelName)
			if err != nil {
				return err
			}
			key := apiKey
			if key == "" {
				key = cfg.AI.APIKey
			}

			reply := a.ai.Ping(cmd.Context(), key, name)
			if reply.Failed() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.RedString("✗"), reply.Text())
				return fmt.Errorf("connection test failed: %s", reply.Failure.Kind)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", color.GreenString("✓"), name, reply.Text())
			return nil
		},
	}
	cmd.Flags().StringVar(&modelName, "model", "", "Model to test (default: configured model)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Credential to test (default: configured key)")
	return cmd
}

// NewChatCmd relays stdin lines to the model and streams each reply.
func NewChatCmd() *cobra.Command {
	var modelName, apiKey string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat through the streaming relay",
		Long: `Reads one message per line from stdin and streams the reply.

Type /reset to clear the conversation and /quit to exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, modelFactory)
			if err != nil {
				return err
			}
			_, sessionID, err := a.session(cmd.Context(), modelName, apiKey)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			session, _ := a.chats.GetSession(cmd.Context(), sessionID)
			fmt.Fprintln(out, color.CyanString("%s", session.Greeting))

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, color.GreenString("> "))
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				case "/reset":
					reset, err := a.chats.Reset(cmd.Context(), sessionID)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, color.CyanString("%s", reset.Greeting))
					continue
				}

				exchange, err := a.relay.Stream(cmd.Context(), sessionID, line)
				if err != nil {
					fmt.Fprintln(out, color.RedString("❌ Error: %v", err))
					continue
				}
				for fragment, ferr := range exchange.Fragments() {
					if ferr != nil {
						break
					}
					fmt.Fprint(out, fragment)
				}
				if err := exchange.Close(); err != nil {
					return err
				}
				if failure := exchange.Failure(); failure != nil {
					fmt.Fprint(out, "\n\n"+color.RedString("%s", failure.Text()))
				}
				fmt.Fprintln(out)
			}
		},
	}
	cmd.Flags().StringVar(&modelName, "model", "", "Model for the session (default: configured model)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Session credential (default: configured key)")
	return cmd
}

// NewAgentCmd runs one supervised turn and prints the chosen role and reply.
func NewAgentCmd() *cobra.Command {
	var modelName, apiKey string
	cmd := &cobra.Command{
		Use:   "agent <text>",
		Short: "Route a message to one role and print its answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, modelFactory)
			if err != nil {
				return err
			}
			_, sessionID, err := a.session(cmd.Context(), modelName, apiKey)
			if err != nil {
				return err
			}

			outcome, err := a.supervisor.Handle(cmd.Context(), sessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), outcome)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Role: %s (%s, %dms)\n", color.CyanString("%s", outcome.Decision.Role), outcome.Decision.Source, outcome.ElapsedMS)
			if outcome.Reply.Failed() {
				fmt.Fprintln(out, color.RedString("%s", outcome.Reply.Text()))
				return nil
			}
			fmt.Fprintln(out, outcome.Reply.Text())
			return nil
		},
	}
	cmd.Flags().StringVar(&modelName, "model", "", "Model for the session (default: configured model)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Session credential (default: configured key)")
	return cmd
}

// NewChainageCmd matches digging and leak files around target chainages.
func NewChainageCmd() *cobra.Command {
	var diggingPath, leaksPath, targetsRaw, exportPath, plotDir string
	cmd := &cobra.Command{
		Use:   "chainage",
		Short: "Find digging and leak events near target chainages",
		RunE: func(cmd *cobra.Command, args []string) error {
			digging, err := loadTable(diggingPath)
			if err != nil {
				return err
			}
			leaks, err := loadTable(leaksPath)
			if err != nil {
				return err
			}

			targets := chainage.Targets(digging)
			if targetsRaw != "" {
				if targets, err = chainage.ParseTargets(targetsRaw); err != nil {
					return err
				}
			}

			windows, err := chainage.Match(digging, leaks, chainage.DefaultColumns.Chainage, targets)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "TARGET\tDIGGING\tLEAKS")
			for _, win := range windows {
				fmt.Fprintf(w, "%g\t%d\t%d\n", win.Target, win.Digging.Len(), win.Leaks.Len())
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if exportPath != "" {
				if err := writeFile(exportPath, func(f *os.File) error { return chainage.Export(f, windows) }); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s exported %s\n", color.GreenString("✓"), exportPath)
			}

			if plotDir != "" {
				if err := os.MkdirAll(plotDir, 0o755); err != nil {
					return err
				}
				for _, win := range windows {
					path := filepath.Join(plotDir, "chainage_"+strconv.FormatFloat(win.Target, 'f', -1, 64)+".png")
					if err := writeFile(path, func(f *os.File) error { return chainage.Plot(f, win) }); err != nil {
						return err
					}
					fmt.Fprintf(out, "%s plotted %s\n", color.GreenString("✓"), path)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&diggingPath, "digging", "", "Digging events file (.csv or .xlsx)")
	cmd.Flags().StringVar(&leaksPath, "leaks", "", "Leak events file (.csv or .xlsx)")
	cmd.Flags().StringVar(&targetsRaw, "targets", "", "Comma separated target chainages (default: every digging chainage)")
	cmd.Flags().StringVar(&exportPath, "export", "", "Write matched rows to this CSV file")
	cmd.Flags().StringVar(&plotDir, "plot-dir", "", "Write one PNG per target into this directory")
	_ = cmd.MarkFlagRequired("digging")
	_ = cmd.MarkFlagRequired("leaks")
	return cmd
}

func loadTable(path string) (*chainage.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return chainage.Load(filepath.Base(path), f, chainage.DefaultColumns)
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
