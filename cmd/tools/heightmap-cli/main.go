package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/annel0/terrain/internal/auth"
	"github.com/annel0/terrain/internal/codec"
	"github.com/annel0/terrain/internal/config"
	"github.com/annel0/terrain/internal/heightmap"
	"github.com/annel0/terrain/internal/logging"
	"github.com/annel0/terrain/internal/palette"
	"github.com/annel0/terrain/internal/terrain"
	"github.com/annel0/terrain/internal/vec"
)

// Наибольший размер, который CLI генерирует без сервера: 8193x8193
const maxLocalSize = 1<<13 + 1

func main() {
	var (
		command   = flag.String("cmd", "generate", "Command: generate, token")
		size      = flag.Int("size", heightmap.DefaultSize, "Grid size (2^k+1)")
		seed      = flag.Int64("seed", 0, "Numeric seed (0 = time based unless -seed-text is set)")
		seedText  = flag.String("seed-text", "", "Text seed, overrides -seed")
		roughness = flag.Float64("roughness", heightmap.DefaultRoughness, "Initial amplitude")
		h         = flag.Float64("h", heightmap.DefaultH, "Roughness exponent H (> 0)")
		corners   = flag.String("corners", "", "Four corner heights: c00,c0N,cN0,cNN")
		tile      = flag.String("tile", "", "Tile coordinates tx,ty for seamless neighbours")
		format    = flag.String("format", "png", "Output format: png, csv, bin")
		out       = flag.String("out", "", "Output file (default stdout)")
		verbose   = flag.Bool("v", false, "Log every pass to stderr")

		secret  = flag.String("secret", "", "JWT secret (token command)")
		subject = flag.String("subject", "admin", "JWT subject (token command)")
		admin   = flag.Bool("admin", true, "Grant admin rights (token command)")
		ttl     = flag.Duration("ttl", 24*time.Hour, "Token lifetime (token command)")
	)
	flag.Parse()

	switch *command {
	case "generate":
		req := terrain.Request{
			Size:      *size,
			SeedText:  *seedText,
			Roughness: roughness,
			H:         h,
		}
		if *seed != 0 {
			req.Seed = seed
		}
		if *corners != "" {
			c, err := parseCorners(*corners)
			if err != nil {
				log.Fatalf("❌ %v", err)
			}
			req.Corners = &c
		}
		if *tile != "" {
			t, err := parseTile(*tile)
			if err != nil {
				log.Fatalf("❌ %v", err)
			}
			req.Tile = &t
		}

		if err := generate(req, *format, *out, *verbose); err != nil {
			log.Fatalf("❌ Generate failed: %v", err)
		}

	case "token":
		if err := mintToken(*secret, *subject, *admin, *ttl); err != nil {
			log.Fatalf("❌ Token failed: %v", err)
		}

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: generate, token")
		os.Exit(1)
	}
}

// generate строит карту локально и пишет её в выбранном формате
func generate(req terrain.Request, format, out string, verbose bool) error {
	limits := config.Default().Generator
	limits.MinSize = 3
	limits.MaxSize = maxLocalSize

	params, err := req.Resolve(limits)
	if err != nil {
		return err
	}
	id := terrain.KeyFor(params)

	logger := logging.NewConsoleLogger("cli", os.Stderr, logging.INFO)
	if verbose {
		logger.SetLevels(logging.TRACE, logging.ERROR)
		params.Observer = func(ps heightmap.PassStats) {
			logging.LogPass(logger, id, ps.Pass, ps.Step, ps.Cells, ps.Amplitude, ps.MaxPerturbation)
		}
	}

	start := time.Now()
	grid, err := heightmap.Generate(params)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	logging.LogGeneration(logger, id, params.Size, params.Seed, elapsed)

	w := io.Writer(os.Stdout)
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "png":
		return palette.WritePNG(w, grid)
	case "csv":
		return writeCSV(w, grid)
	case "bin":
		lo, hi := grid.MinMax()
		data, err := codec.Default().Encode(&codec.Record{
			Meta: codec.Meta{
				ID:        id,
				Size:      params.Size,
				Seed:      params.Seed,
				SeedText:  req.SeedText,
				Roughness: params.InitialRoughness,
				H:         params.H,
				Corners:   params.Corners,
				Tile:      params.Tile,
				CreatedAt: start.UTC(),
				Duration:  elapsed,
				Min:       lo,
				Max:       hi,
			},
			Grid: grid,
		})
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unknown format %q (png, csv, bin)", format)
	}
}

func writeCSV(w io.Writer, g *heightmap.Grid) error {
	cw := csv.NewWriter(w)
	for _, row := range g.Rows() {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func mintToken(secret, subject string, admin bool, ttl time.Duration) error {
	if secret == "" {
		secret = auth.GenerateSecureSecret()
		fmt.Fprintf(os.Stderr, "🔑 Generated secret: %s\n", secret)
	}

	issuer, err := auth.NewIssuer(secret, config.Default().Auth.Issuer)
	if err != nil {
		return err
	}
	token, err := issuer.Generate(subject, admin, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma-separated values, got %d", n, len(parts))
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseCorners(s string) ([4]float64, error) {
	var c [4]float64
	vals, err := parseFloats(s, 4)
	if err != nil {
		return c, fmt.Errorf("corners: %w", err)
	}
	copy(c[:], vals)
	return c, nil
}

func parseTile(s string) (vec.Vec2, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return vec.Vec2{}, fmt.Errorf("tile: expected tx,ty")
	}
	x, errX := strconv.Atoi(strings.TrimSpace(parts[0]))
	y, errY := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errX != nil || errY != nil {
		return vec.Vec2{}, fmt.Errorf("tile: coordinates must be integers")
	}
	return vec.Vec2{X: x, Y: y}, nil
}
