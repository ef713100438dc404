package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/catalog"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/pkg/detector"
)

// maxLineSize bounds a single document in --lines mode.
const maxLineSize = 1 << 20

var (
	// detectDomains restricts detection to these domains
	detectDomains []string
	// detectPretty indents the JSON output
	detectPretty bool
	// detectShowSecrets prints secrets-domain matches unmasked
	detectShowSecrets bool
	// detectLines treats every input line as its own document
	detectLines bool
	// detectMinConfidence overrides detector.min_confidence when set
	detectMinConfidence float64
	// detectMetrics dumps registry metrics to stderr after the run
	detectMetrics bool
)

func init() {
	detectCmd.Flags().StringSliceVar(&detectDomains, "domains", nil, "domains to detect (default: every registered domain)")
	detectCmd.Flags().BoolVar(&detectPretty, "pretty", false, "indent JSON output")
	detectCmd.Flags().BoolVar(&detectShowSecrets, "show-secrets", false, "do not mask secrets-domain matches")
	detectCmd.Flags().BoolVar(&detectLines, "lines", false, "treat each input line as a separate document")
	detectCmd.Flags().Float64Var(&detectMinConfidence, "min-confidence", 0, "drop detections below this confidence")
	detectCmd.Flags().BoolVar(&detectMetrics, "metrics", false, "print registry metrics to stderr in Prometheus text format")
}

// detectCmd runs detection over a file or stdin
var detectCmd = &cobra.Command{
	Use:   "detect [file]",
	Short: "Detect entities and relationships in a file or stdin",
	Long: `Detect entities and relationships in a file or stdin and print the
result as JSON.

Matches from the secrets domain are masked unless --show-secrets is given.

With --lines every input line is a separate document and one JSON object is
printed per line. When catalog.watch is enabled, catalog files are reloaded
while input is streaming.

Examples:
  # Detect in a file
  patternd detect advisory.txt

  # Detect from stdin
  cat advisory.txt | patternd detect -

  # Stream log lines through the secrets domain
  tail -f app.log | patternd detect --lines --domains secrets -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDetect,
}

// detectOutput is one printed detection result.
type detectOutput struct {
	Source string `json:"source"`
	Line   int    `json:"line,omitempty"`
	*detector.Result
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("min-confidence") {
		cfg.Detector.MinConfidence = detectMinConfidence
		if err := cfg.Detector.Validate(); err != nil {
			return err
		}
	}

	e, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close(context.Background()) }()

	domains := detectDomains
	if len(domains) == 0 {
		domains = e.registry.Domains()
	}

	source := "-"
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		source = args[0]
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()
		in = f
	}

	out := json.NewEncoder(cmd.OutOrStdout())
	if detectPretty {
		out.SetIndent("", "  ")
	}

	if detectLines {
		if cfg.Catalog.Watch && len(cfg.Catalog.Paths) > 0 {
			if err := startWatcher(ctx, e); err != nil {
				return err
			}
		}
		err = detectLinesFrom(ctx, e, in, source, domains, out)
	} else {
		err = detectDocument(ctx, e, in, source, domains, out)
	}
	if err != nil {
		return err
	}

	if detectMetrics {
		return writeMetrics(cmd.ErrOrStderr(), e)
	}
	return nil
}

func detectDocument(ctx context.Context, e *engine, in io.Reader, source string, domains []string, out *json.Encoder) error {
	content, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	res, err := e.process(ctx, string(content), source, domains)
	if err != nil {
		return err
	}
	return out.Encode(detectOutput{Source: source, Result: res})
}

func detectLinesFrom(ctx context.Context, e *engine, in io.Reader, source string, domains []string, out *json.Encoder) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			return nil
		}
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		res, err := e.process(ctx, text, source+":"+strconv.Itoa(line), domains)
		if err != nil {
			return err
		}
		if err := out.Encode(detectOutput{Source: source, Line: line, Result: res}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}

// process runs one document through the detector and masks secrets.
func (e *engine) process(ctx context.Context, text, document string, domains []string) (*detector.Result, error) {
	ctx = logging.WithDocument(ctx, document)
	res, err := e.detector.ProcessDocument(ctx, text, domains)
	if err != nil {
		return nil, fmt.Errorf("detection failed for %s: %w", document, err)
	}

	for _, ent := range res.Entities {
		if ent.Pattern.Domain == catalog.SecretsDomain {
			e.logger.Debug(ctx, "secret detected",
				zap.String("pattern", ent.Pattern.String()),
				zap.Int("start", ent.Start),
				logging.RedactedString("text", ent.Text))
		}
	}
	if !detectShowSecrets {
		maskSecrets(res)
	}
	return res, nil
}

// maskSecrets replaces the text of secrets-domain entities, and every
// occurrence of it in relationship text, with its length.
func maskSecrets(res *detector.Result) {
	var secrets []string
	for i := range res.Entities {
		ent := &res.Entities[i]
		if ent.Pattern.Domain != catalog.SecretsDomain {
			continue
		}
		secrets = append(secrets, ent.Text)
		ent.Text = mask(ent.Text)
	}
	if len(secrets) == 0 {
		return
	}

	// Longest first so a secret containing another is masked whole.
	slices.SortFunc(secrets, func(a, b string) int { return len(b) - len(a) })
	for i := range res.Relationships {
		rel := &res.Relationships[i]
		for _, s := range secrets {
			rel.Text = strings.ReplaceAll(rel.Text, s, mask(s))
		}
	}
}

func mask(s string) string {
	return "[REDACTED:" + strconv.Itoa(len(s)) + "]"
}

// startWatcher reloads the configured catalog files in the background.
func startWatcher(ctx context.Context, e *engine) error {
	w, err := catalog.NewWatcher(e.registry, e.cfg.Catalog.Paths,
		catalog.WithDebounce(e.cfg.Catalog.Debounce.Duration()),
		catalog.WithWatchLogger(e.logger.Underlying()))
	if err != nil {
		return err
	}

	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error(ctx, "catalog watcher stopped", zap.Error(err))
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-w.Reloads():
				if r.Err != nil {
					e.logger.Warn(ctx, "catalog reload failed", zap.String("path", r.Path), zap.Error(r.Err))
					continue
				}
				e.logger.Info(ctx, "catalog reloaded",
					zap.String("path", r.Path),
					zap.Int("registered", r.Report.Registered),
					zap.Int("deactivated", r.Deactivated))
			}
		}
	}()
	return nil
}

func writeMetrics(w io.Writer, e *engine) error {
	families, err := e.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
	}
	return nil
}
