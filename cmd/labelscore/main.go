package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ieee0824/labelscore"
	"github.com/ieee0824/labelscore/decoder"
	"github.com/ieee0824/labelscore/frontend"
	"github.com/ieee0824/labelscore/label"
	"github.com/ieee0824/labelscore/language"
)

type decodeFlags struct {
	config   string
	input    string
	wav      string
	vocab    string
	mode     string
	blank    int
	logLevel string
	verbose  bool
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "labelscore",
		Short:        "Score and greedily decode label sequences",
		SilenceUsage: true,
	}

	var f decodeFlags
	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Greedy-decode a CSV matrix or a WAV file",
		Long: `--input reads a CSV matrix, one frame per row. Without --config the
rows are log-probabilities read by a stepwise scorer and the vocabulary
size is the row width. With --config the rows are the features of the
configured scorer tree.

--wav streams 16-bit PCM mono audio through the configured frontend into
the decoder. It needs --config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error { return runDecode(cmd, f) },
	}
	decodeCmd.Flags().StringVarP(&f.config, "config", "c", "", "YAML configuration")
	decodeCmd.Flags().StringVarP(&f.input, "input", "i", "", "CSV input, - for stdin")
	decodeCmd.Flags().StringVar(&f.wav, "wav", "", "WAV input, decoded incrementally")
	decodeCmd.Flags().StringVar(&f.vocab, "vocab", "", "symbol file, one per line in token order")
	decodeCmd.Flags().StringVar(&f.mode, "mode", "", "override decoder mode (frame-synchronous, label-synchronous)")
	decodeCmd.Flags().IntVar(&f.blank, "blank", 0, "override blank token, -1 for none")
	decodeCmd.Flags().StringVar(&f.logLevel, "log-level", "", "override log level")
	decodeCmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "print per-label frames and scores")
	decodeCmd.MarkFlagsOneRequired("input", "wav")
	decodeCmd.MarkFlagsMutuallyExclusive("input", "wav")

	checkConfigCmd := &cobra.Command{
		Use:   "check-config [file]",
		Short: "Validate a YAML configuration",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheckConfig,
	}

	rootCmd.AddCommand(decodeCmd, checkConfigCmd)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

// readFrames parses one frame per CSV row. Lines starting with # are
// skipped and every row must have the same width.
func readFrames(r io.Reader) ([]label.Frame, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	var frames []label.Frame
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		f := make(label.Frame, len(rec))
		for i, field := range rec {
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				line, _ := cr.FieldPos(i)
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			f[i] = float32(v)
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		return nil, errors.New("no frames")
	}
	return frames, nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func loadConfig(cmd *cobra.Command, f decodeFlags, width int) (labelscore.Config, error) {
	cfg := labelscore.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = labelscore.LoadConfigFile(f.config); err != nil {
			return cfg, err
		}
	} else {
		cfg.Scorer.Type = labelscore.TypeStepwise
		cfg.Decoder.VocabSize = width
	}
	if cmd.Flags().Changed("mode") {
		cfg.Decoder.Mode = decoder.Mode(f.mode)
	}
	if cmd.Flags().Changed("blank") {
		cfg.Decoder.Blank = label.TokenID(f.blank)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	return cfg, cfg.Validate()
}

func symbols(path string) (func(label.TokenID) string, error) {
	if path == "" {
		return func(t label.TokenID) string { return strconv.Itoa(int(t)) }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	v, err := language.LoadVocabulary(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v.Word, nil
}

func runDecode(cmd *cobra.Command, f decodeFlags) error {
	if f.wav != "" {
		return runDecodeWAV(cmd, f)
	}
	in, err := openInput(f.input)
	if err != nil {
		return err
	}
	frames, err := readFrames(in)
	in.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", f.input, err)
	}

	cfg, err := loadConfig(cmd, f, len(frames[0]))
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return err
	}
	symbol, err := symbols(f.vocab)
	if err != nil {
		return err
	}

	scorer, err := labelscore.New(cfg.Scorer, labelscore.WithLogger(logger))
	if err != nil {
		return err
	}
	defer scorer.Close()

	res, err := scorer.Decode(context.Background(), frames, cfg.Decoder, decoder.WithLogger(logger))
	if err != nil {
		return err
	}
	printResult(cmd, res, symbol, f.verbose)
	return nil
}

// chunkMs is how much audio is pushed through the frontend at a time.
const chunkMs = 100

func runDecodeWAV(cmd *cobra.Command, f decodeFlags) error {
	if f.config == "" {
		return fmt.Errorf("%w: --wav needs --config", label.ErrConfig)
	}
	cfg, err := loadConfig(cmd, f, 0)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return err
	}
	symbol, err := symbols(f.vocab)
	if err != nil {
		return err
	}
	audio, err := frontend.ReadWAVFile(f.wav)
	if err != nil {
		return err
	}
	if audio.SampleRate != cfg.Frontend.SampleRate {
		return fmt.Errorf("%s: %d Hz audio for a %d Hz frontend", f.wav, audio.SampleRate, cfg.Frontend.SampleRate)
	}
	ex, err := frontend.New(cfg.Frontend, logger)
	if err != nil {
		return err
	}

	scorer, err := labelscore.New(cfg.Scorer, labelscore.WithLogger(logger))
	if err != nil {
		return err
	}
	defer scorer.Close()
	g, err := decoder.NewGreedy(scorer, cfg.Decoder, decoder.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx := context.Background()
	step := audio.SampleRate * chunkMs / 1000
	for pos := 0; pos < len(audio.Samples); pos += step {
		frames := ex.Push(audio.Samples[pos:min(pos+step, len(audio.Samples))])
		if err := g.AddInputs(ctx, frames); err != nil {
			return err
		}
	}
	if err := g.AddInputs(ctx, ex.Flush()); err != nil {
		return err
	}
	res, err := g.Finish(ctx)
	if err != nil {
		return err
	}
	logger.Info("decoded", "file", f.wav, "seconds", audio.Duration(), "frames", cfg.Frontend.Frames(len(audio.Samples)))
	printResult(cmd, res, symbol, f.verbose)
	return nil
}

func printResult(cmd *cobra.Command, res *decoder.Result, symbol func(label.TokenID) string, verbose bool) {
	fmt.Fprintln(cmd.OutOrStdout(), res.Text(symbol, " "))
	if !verbose {
		return
	}
	w := cmd.ErrOrStderr()
	fmt.Fprintf(w, "score: %.4f steps: %d\n", res.LogScore, res.Steps)
	for _, l := range res.Labels {
		fmt.Fprintf(w, "  [%d] %s %.4f\n", l.Frame, symbol(l.Token), l.LogScore)
	}
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	cfg, err := labelscore.LoadConfigFile(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s, %s decoding)\n", args[0], cfg.Scorer.Type, cfg.Decoder.Mode)
	return nil
}
