package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"container-telemetry/loadgen/internal/codec"
	"container-telemetry/loadgen/internal/domain"
	"container-telemetry/loadgen/internal/synth"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	flagReportFile string
	flagSeed       uint64
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Compare JSON, delimited and protobuf sizes of one synthetic record",
	Long: `inspect synthesizes one record, measures it as JSON, as the tracker's
pipe-delimited frame and as a ContainerData protobuf message, checks the
protobuf size against the payload ceiling and verifies that it decodes
back. The full report is written to a file.`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVarP(&flagReportFile, "output", "o", "", "Report file (default payload_report_<timestamp>.txt)")
	inspectCmd.Flags().Uint64Var(&flagSeed, "seed", 0, "Seed for a reproducible record, 0 picks a random one")
}

type sizeReport struct {
	Record     domain.ContainerTelemetry
	JSON       []byte
	Delimited  string
	Encoded    codec.EncodedMessage
	MaxPayload int
	Decoded    domain.ContainerTelemetry
	DecodeErr  error
}

func (r sizeReport) fits() bool { return r.Encoded.Size < r.MaxPayload }

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

func newSizeReport(rec domain.ContainerTelemetry, maxPayload int) (sizeReport, error) {
	js, err := json.Marshal(rec)
	if err != nil {
		return sizeReport{}, fmt.Errorf("inspect: json: %w", err)
	}
	enc, err := codec.Encode(rec)
	if err != nil {
		return sizeReport{}, fmt.Errorf("inspect: %w", err)
	}
	decoded, decodeErr := codec.Decode(enc.Bytes)
	return sizeReport{
		Record:     rec,
		JSON:       js,
		Delimited:  rec.Delimited(),
		Encoded:    enc,
		MaxPayload: maxPayload,
		Decoded:    decoded,
		DecodeErr:  decodeErr,
	}, nil
}

func (r sizeReport) writeSummary(w io.Writer) {
	pass := "FAIL"
	if r.fits() {
		pass = "PASS"
	}
	head := r.Encoded.Bytes[:min(20, len(r.Encoded.Bytes))]
	delimited := r.Delimited
	if len(delimited) > 100 {
		delimited = delimited[:100] + "..."
	}

	fmt.Fprintf(w, "JSON size:          %d bytes (UTF-8)\n", len(r.JSON))
	fmt.Fprintf(w, "Delimited size:     %d bytes (UTF-8)\n", len(r.Delimited))
	fmt.Fprintf(w, "Protobuf size:      %d bytes\n", r.Encoded.Size)
	fmt.Fprintf(w, "Ratio vs JSON:      %.2fx\n", ratio(len(r.JSON), r.Encoded.Size))
	fmt.Fprintf(w, "Ratio vs delimited: %.2fx\n", ratio(len(r.Delimited), r.Encoded.Size))
	fmt.Fprintf(w, "Size check:         %s (<%d bytes)\n", pass, r.MaxPayload)
	fmt.Fprintf(w, "Space remaining:    %d bytes\n", r.MaxPayload-r.Encoded.Size)
	fmt.Fprintf(w, "First %d bytes:     %s\n", len(head), hex.EncodeToString(head))
	fmt.Fprintf(w, "Delimited sample:   %s\n", delimited)
}

func (r sizeReport) writeFull(w io.Writer, now time.Time) error {
	bw := bufio.NewWriter(w)
	rule := func(title string) {
		fmt.Fprintf(bw, "\n%s\n%s\n", title, "------------------------------")
	}

	fmt.Fprintln(bw, "CONTAINERDATA PAYLOAD REPORT")
	fmt.Fprintln(bw, "==================================================")
	fmt.Fprintf(bw, "Date: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(bw, "Max payload size: %d bytes\n", r.MaxPayload)

	rule("SIZE MEASUREMENTS:")
	r.writeSummary(bw)

	rule("SAMPLE RECORD (JSON):")
	pretty, err := json.MarshalIndent(r.Record, "", "  ")
	if err != nil {
		return fmt.Errorf("inspect: json: %w", err)
	}
	bw.Write(pretty)
	fmt.Fprintln(bw)

	rule("WIRE FIELDS:")
	for _, f := range codec.Schema {
		fmt.Fprintf(bw, "%2d. %-12s %s\n", f.Number, f.Name, f.Kind)
	}

	rule("PROTOBUF BYTES:")
	fmt.Fprintf(bw, "Size: %d bytes\n", r.Encoded.Size)
	fmt.Fprint(bw, hex.Dump(r.Encoded.Bytes))

	rule("DECODE CHECK:")
	switch {
	case r.DecodeErr != nil:
		fmt.Fprintf(bw, "Decoded: NO (%v)\n", r.DecodeErr)
	case r.Decoded != r.Record:
		fmt.Fprintln(bw, "Decoded: YES, but fields differ")
	default:
		fmt.Fprintln(bw, "Decoded: YES, all fields match")
	}

	rule("RECEIVER:")
	fmt.Fprintln(bw, "1. Accept POST with Content-Type application/octet-stream")
	fmt.Fprintln(bw, "2. Parse the body as ContainerData (proto/container_data.proto)")
	fmt.Fprintf(bw, "3. Expect payloads under %d bytes\n", r.MaxPayload)

	return bw.Flush()
}

func runInspect(cmd *cobra.Command, args []string) error {
	s, err := newSynthesizer()
	if err != nil {
		return err
	}
	if flagSeed != 0 {
		ranges := synth.DefaultRanges()
		if cfg.RangesFile != "" {
			if ranges, err = synth.LoadRanges(cfg.RangesFile); err != nil {
				return err
			}
		}
		s = synth.NewSeeded(flagSeed, ranges)
	}

	r, err := newSizeReport(s.Synthesize(), cfg.MaxPayloadBytes)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Protobuf payload size check")
	r.writeSummary(out)

	now := time.Now()
	name := flagReportFile
	if name == "" {
		name = fmt.Sprintf("payload_report_%s.txt", now.Format("20060102_150405"))
	}
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	defer f.Close()
	if err := r.writeFull(f, now); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nResults saved to: %s\n", name)

	if r.DecodeErr != nil {
		return fmt.Errorf("inspect: decode check failed: %w", r.DecodeErr)
	}
	if !r.fits() {
		return fmt.Errorf("inspect: payload of %d bytes exceeds the %d byte ceiling", r.Encoded.Size, r.MaxPayload)
	}
	return nil
}
