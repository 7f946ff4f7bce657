package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoText = "title: Demo Car\nprice: $10,000\nyear: 2020\nmileage: 1,000\nengine: 2.0L\ntrans: Automatic\nfuel: Gasoline\nstatus: available\nstock_no: T-0001"

func writeFolder(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngestCommand(t *testing.T) {
	dir := writeFolder(t, map[string]string{
		"car.txt":   demoText,
		"img10.jpg": "ten",
		"img2.jpg":  "two",
		"notes.md":  "skip me",
	})

	out, err := run(t, "ingest", dir)
	require.NoError(t, err)

	var res struct {
		CarID    string `json:"car_id"`
		StockNo  string `json:"stock_no"`
		Inserted int    `json:"inserted_car_images"`
		Uploaded int    `json:"uploaded_image_files"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.NotEmpty(t, res.CarID)
	assert.Equal(t, "T-0001", res.StockNo)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 2, res.Uploaded)
}

func TestIngestCommandRequiresCarText(t *testing.T) {
	dir := writeFolder(t, map[string]string{"img1.jpg": "one"})

	_, err := run(t, "ingest", dir)
	require.ErrorContains(t, err, "read car.txt")
}

func TestSweepCommand(t *testing.T) {
	out, err := run(t, "sweep")
	require.NoError(t, err)
	assert.Equal(t, "closed 0 abandoned task(s)\n", out)
}

func TestLoadFolderOrdersImagesNaturally(t *testing.T) {
	t.Parallel()

	dir := writeFolder(t, map[string]string{
		"car.txt":    demoText,
		"IMG10.png":  "c",
		"img2.jpg":   "b",
		"img1.webp":  "a",
		"cover.jpeg": "d",
	})
	req, err := loadFolder(dir)
	require.NoError(t, err)
	require.Equal(t, demoText, req.Text)

	names := make([]string, len(req.Files))
	for i, f := range req.Files {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"cover.jpeg", "img1.webp", "img2.jpg", "IMG10.png"}, names)
}

func TestNaturalLess(t *testing.T) {
	t.Parallel()

	names := []string{"b.jpg", "a10.jpg", "a2.jpg", "a02b.jpg", "a2a.jpg", "A1.jpg"}
	sort.Slice(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })
	assert.Equal(t, []string{"A1.jpg", "a2.jpg", "a2a.jpg", "a02b.jpg", "a10.jpg", "b.jpg"}, names)
}
