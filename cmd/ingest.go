package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neorise/storefront/internal/images"
	"github.com/neorise/storefront/internal/ingest"
)

const carTextFile = "car.txt"

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <folder>",
		Short: "Import car.txt and the images in a folder",
		Long: `Reads <folder>/car.txt and every supported image in the folder, in
natural filename order (img2 before img10), and runs them through the same
pipeline as POST /api/ingest-car. Re-running a folder is safe: the stock
number makes the import idempotent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			req, err := loadFolder(args[0])
			if err != nil {
				return err
			}
			app.Logger().Info("ingesting folder",
				zap.String("folder", args[0]),
				zap.Int("images", len(req.Files)))

			res, err := app.Ingest().Ingest(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("ingest %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

// loadFolder reads car.txt and the supported images of dir.
func loadFolder(dir string) (ingest.Request, error) {
	text, err := os.ReadFile(filepath.Join(dir, carTextFile))
	if err != nil {
		return ingest.Request{}, fmt.Errorf("read %s: %w", carTextFile, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ingest.Request{}, fmt.Errorf("read folder: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if (images.File{Name: e.Name()}).Supported() {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })

	files := make([]images.File, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return ingest.Request{}, fmt.Errorf("read image %s: %w", name, err)
		}
		files = append(files, images.File{Name: name, Data: data})
	}
	return ingest.Request{Text: string(text), Files: files}, nil
}

// naturalLess compares case-insensitively, treating digit runs as numbers.
func naturalLess(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	for a != "" && b != "" {
		da, ra := leadingDigits(a)
		db, rb := leadingDigits(b)
		if da != "" && db != "" {
			na, nb := strings.TrimLeft(da, "0"), strings.TrimLeft(db, "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			a, b = ra, rb
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func leadingDigits(s string) (string, string) {
	i := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}
