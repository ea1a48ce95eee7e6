// rrfixture writes synthetic replay archives and replay directories for
// benchmarking and testing rrstream.
//
// Payloads are generated from a seeded PCG source, so the same flags always
// produce the same bytes.
package main

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vertti/rrstream/internal/archive"
	"github.com/vertti/rrstream/internal/fixture"
)

type options struct {
	output        string
	dir           string
	count         int
	method        string
	seed          uint64
	networkSize   int
	corruptEvery  int
	oversizeEvery int
}

func main() {
	cmd := newRootCmd(os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:   "rrfixture",
		Short: "Generate synthetic replay archives",
		Example: `  rrfixture -n 10000 -o bench.zip
  rrfixture -n 50 --method mixed --corrupt-every 7 > broken.zip
  rrfixture -n 200 --dir ./replays`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			if o.dir != "" {
				return writeDir(&o)
			}
			return writeArchive(&o, stdout)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.output, "output", "o", "", "archive to write (default: stdout)")
	f.StringVar(&o.dir, "dir", "", "write loose .replay files into this directory instead of an archive")
	f.IntVarP(&o.count, "count", "n", 100, "number of replays")
	f.StringVar(&o.method, "method", "deflate", "compression: store, deflate, zstd or mixed")
	f.Uint64Var(&o.seed, "seed", 42, "random seed")
	f.IntVar(&o.networkSize, "network-size", 64*1024, "largest opaque network stream per replay in bytes")
	f.IntVar(&o.corruptEvery, "corrupt-every", 0, "corrupt every Nth entry so it fails its checksum (0: never)")
	f.IntVar(&o.oversizeEvery, "oversize-every", 0, "declare every Nth entry larger than the default ceiling (0: never)")

	return cmd
}

func parseMethod(s string) ([]uint16, error) {
	switch strings.ToLower(s) {
	case "store":
		return []uint16{archive.MethodStore}, nil
	case "deflate":
		return []uint16{archive.MethodDeflate}, nil
	case "zstd":
		return []uint16{archive.MethodZstd}, nil
	case "mixed":
		return []uint16{archive.MethodStore, archive.MethodDeflate, archive.MethodZstd}, nil
	default:
		return nil, fmt.Errorf("unknown method %q", s)
	}
}

func every(n, i int) bool { return n > 0 && (i+1)%n == 0 }

func writeArchive(o *options, stdout io.Writer) error {
	methods, err := parseMethod(o.method)
	if err != nil {
		return err
	}

	out := stdout
	var f *os.File
	if o.output != "" && o.output != "-" {
		f, err = os.Create(o.output) //nolint:gosec // CLI tool needs to create user-specified files
		if err != nil {
			return fmt.Errorf("cannot create output: %w", err)
		}
		defer f.Close() //nolint:errcheck // closed explicitly on success
		out = f
	}
	bw := bufio.NewWriterSize(out, 1<<20)

	w, err := fixture.NewWriter(bw)
	if err != nil {
		return err
	}
	//nolint:gosec // intentionally using math/rand for reproducibility, not security
	rng := rand.New(rand.NewPCG(o.seed, o.seed))
	for i := range o.count {
		payload, err := fixture.Payload(rng, o.networkSize)
		if err != nil {
			return err
		}
		m := fixture.Member{
			Name:    fmt.Sprintf("replays/%06d.replay", i),
			Payload: payload,
			Method:  methods[i%len(methods)],
			Corrupt: every(o.corruptEvery, i),
		}
		if every(o.oversizeEvery, i) {
			m.DeclaredSize = 1 << 30
		}
		if err := w.Add(m); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func writeDir(o *options) error {
	if err := os.MkdirAll(o.dir, 0o750); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	//nolint:gosec // intentionally using math/rand for reproducibility, not security
	rng := rand.New(rand.NewPCG(o.seed, o.seed))
	for i := range o.count {
		payload, err := fixture.Payload(rng, o.networkSize)
		if err != nil {
			return err
		}
		if every(o.corruptEvery, i) {
			payload[len(payload)-1] ^= 0xff
		}
		path := filepath.Join(o.dir, fmt.Sprintf("%06d.replay", i))
		if err := os.WriteFile(path, payload, 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}
