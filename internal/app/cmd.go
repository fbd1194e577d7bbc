package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/insightlab/insight/internal/client"
	"github.com/insightlab/insight/internal/gateway"
	"github.com/insightlab/insight/internal/logger"
	"github.com/insightlab/insight/internal/model"
	"github.com/insightlab/insight/internal/scoring"
)

// サブコマンド名
const (
	CommandServe       = "serve"
	CommandMigrate     = "migrate"
	CommandHealthcheck = "healthcheck"
	CommandModels      = "models"
	CommandHistory     = "history"
	CommandSubmit      = "submit"
	CommandRoadmap     = "roadmap"
	CommandLogout      = "logout"
)

// クライアント系サブコマンドの環境変数
const (
	envBaseURL = "INSIGHT_BASE_URL"
	envSession = "INSIGHT_SESSION"
)

// NewRootCommand はinsightのルートコマンドを生成する。
// logWはサーバー系コマンドのJSON構造化ログの出力先。クライアント系コマンドのログは標準エラー出力に書く。
// サブコマンドなしで起動した場合はserveとして動作する。
func NewRootCommand(logW io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "insight",
		Short:         "Career assessment API server and client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), logW)
		},
	}

	root.AddCommand(
		newServeCommand(logW),
		newMigrateCommand(logW),
		newHealthcheckCommand(),
		newModelsCommand(),
		newHistoryCommand(),
		newSubmitCommand(),
		newRoadmapCommand(),
		newLogoutCommand(),
	)
	return root
}

func serve(ctx context.Context, logW io.Writer) error {
	cfg, err := Init(logW)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	slog.Info("starting application",
		slog.String("command", CommandServe),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("environment", cfg.Environment),
	)

	ctx, stop := signalContext(ctx)
	defer stop()
	return runServe(ctx, cfg)
}

func newServeCommand(logW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   CommandServe,
		Short: "Start the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), logW)
		},
	}
}

func newMigrateCommand(logW io.Writer) *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   CommandMigrate,
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if down < 0 {
				return fmt.Errorf("--down must not be negative, got %d", down)
			}
			cfg, err := Init(logW)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cfg, down)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "Roll back the given number of migrations instead of applying")
	return cmd
}

// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
func newHealthcheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   CommandHealthcheck,
		Short: "Probe the local /health endpoint (for container health checks)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealthcheck(cmd.Context(), os.Getenv("SERVER_PORT"))
		},
	}
}

func newModelsCommand() *cobra.Command {
	var (
		models  []string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   CommandModels,
		Short: "Check which Gemini models the configured API key can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// 標準出力は結果の表に使うため、ログは標準エラー出力へ
			logger.SetupDefault(cmd.ErrOrStderr())

			apiKey := os.Getenv("GEMINI_API_KEY")
			if apiKey == "" {
				return errors.New("GEMINI_API_KEY is not set")
			}
			gen, err := scoring.NewGeminiClient(cmd.Context(), apiKey)
			if err != nil {
				return fmt.Errorf("failed to create gemini client: %w", err)
			}
			defer gen.Close()

			results := scoring.Probe(cmd.Context(), gen, models, timeout)
			return writeProbeResults(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringSliceVar(&models, "model", nil, "Model to probe (repeatable; default: known Gemini models)")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Per-model timeout")
	return cmd
}

func writeProbeResults(w io.Writer, results []scoring.ProbeResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tSTATUS\tELAPSED\tDETAIL")
	for _, r := range results {
		detail := r.Reply
		if r.Err != nil {
			detail = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Model, r.Status, r.Elapsed.Round(time.Millisecond), detail)
	}
	return tw.Flush()
}

// clientOptions はサーバーに接続するサブコマンドの共通フラグ。
type clientOptions struct {
	baseURL   string
	sessionID string
	timeout   time.Duration
}

func (o *clientOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.baseURL, "base-url", envOr(envBaseURL, "http://localhost:"+defaultServerPort), "Server origin (env "+envBaseURL+")")
	cmd.Flags().StringVar(&o.sessionID, "session", os.Getenv(envSession), "Session cookie value (env "+envSession+")")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 90*time.Second, "Per-request timeout")
}

// orchestrator は端末で確認と遷移を行うOrchestratorを組み立てる。
// 標準出力はJSONや表の出力に使うため、ログは標準エラー出力へ書く。
func (o *clientOptions) orchestrator(cmd *cobra.Command) (*gateway.Orchestrator, error) {
	log := logger.SetupWithLevel(cmd.ErrOrStderr(), logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	api, err := client.New(client.Config{
		BaseURL:   o.baseURL,
		SessionID: o.sessionID,
		Timeout:   o.timeout,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	out := cmd.OutOrStdout()
	navigator := gateway.NewTerminalNavigator(out)
	gate := gateway.NewGate(api, gateway.NewTerminalPrompter(cmd.InOrStdin(), out), navigator, nil)
	return gateway.NewOrchestrator(api, gate, navigator, log), nil
}

func newHistoryCommand() *cobra.Command {
	var (
		opts   clientOptions
		id     string
		latest bool
	)
	cmd := &cobra.Command{
		Use:   CommandHistory,
		Short: "Show assessment history for the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			orch, err := opts.orchestrator(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			switch {
			case id != "":
				rec, err := orch.GetByID(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rec)
			case latest:
				rec, err := orch.Latest(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rec)
			}

			history := orch.ListAll(ctx)
			if history.Degraded {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: history unavailable: %v\n", history.Err)
			}
			return writeHistory(cmd.OutOrStdout(), history.Records)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "Show a single assessment by ID")
	cmd.Flags().BoolVar(&latest, "latest", false, "Show the most recent assessment")
	return cmd
}

func writeHistory(w io.Writer, records []*model.AssessmentRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tPRIMARY CAREER")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.CreatedAt.Format(time.RFC3339), r.PrimaryCareer)
	}
	return tw.Flush()
}

func newSubmitCommand() *cobra.Command {
	var (
		opts clientOptions
		file string
	)
	cmd := &cobra.Command{
		Use:   CommandSubmit + " --file request.json",
		Short: "Submit an assessment request and print the scored result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := readAssessmentRequest(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			orch, err := opts.orchestrator(cmd)
			if err != nil {
				return err
			}
			rec, err := orch.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", `Path to the request JSON ("-" for stdin)`)
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readAssessmentRequest(stdin io.Reader, path string) (*model.AssessmentRequest, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open request file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var req model.AssessmentRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

func newRoadmapCommand() *cobra.Command {
	var (
		opts   clientOptions
		taskID string
		status string
	)
	cmd := &cobra.Command{
		Use:   CommandRoadmap,
		Short: "List roadmap tasks, or update one with --task and --status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (taskID == "") != (status == "") {
				return errors.New("--task and --status must be given together")
			}
			orch, err := opts.orchestrator(cmd)
			if err != nil {
				return err
			}

			if taskID != "" {
				task, err := orch.UpdateRoadmapTask(cmd.Context(), taskID, model.TaskStatus(status))
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), task)
			}

			tasks, err := orch.Roadmap(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tCATEGORY\tTITLE")
			for _, t := range tasks {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Category, t.Title)
			}
			return tw.Flush()
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&taskID, "task", "", "Roadmap task ID to update")
	cmd.Flags().StringVar(&status, "status", "", "New task status")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	var opts clientOptions
	cmd := &cobra.Command{
		Use:   CommandLogout,
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			orch, err := opts.orchestrator(cmd)
			if err != nil {
				return err
			}
			orch.Logout(cmd.Context())
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
