// Package disks holds named geometry presets for formatting new images,
// grounded on disko's disks/disks.go DiskGeometry/gocsv pattern but with a
// working embed (disko's own embed directive is missing its "//go:" prefix
// and never actually loads).
package disks

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
)

// Preset describes one named image geometry: how many blocks, how big each
// is, and how many inodes the table should reserve room for.
type Preset struct {
	Slug        string `csv:"slug"`
	Name        string `csv:"name"`
	TotalBlocks uint32 `csv:"total_blocks"`
	BlockSize   uint32 `csv:"block_size"`
	MaxInodes   uint32 `csv:"max_inodes"`
	Notes       string `csv:"notes"`
}

// TotalSizeBytes gives the size in bytes of an image formatted with this
// preset's geometry.
func (p Preset) TotalSizeBytes() int64 {
	return int64(p.TotalBlocks) * int64(p.BlockSize)
}

//go:embed presets.csv
var presetsRawCSV string

var presets map[string]Preset

func init() {
	presets = make(map[string]Preset)
	reader := strings.NewReader(presetsRawCSV)
	err := gocsv.UnmarshalToCallback(reader, func(row Preset) error {
		if _, exists := presets[row.Slug]; exists {
			return fmt.Errorf("duplicate preset slug %q", row.Slug)
		}
		presets[row.Slug] = row
		return nil
	})
	if err != nil {
		panic(fmt.Sprintf("disks: malformed embedded presets.csv: %v", err))
	}
}

// Get looks up a preset by slug.
func Get(slug string) (Preset, error) {
	preset, ok := presets[slug]
	if !ok {
		return Preset{}, fmt.Errorf("no predefined disk preset exists with slug %q", slug)
	}
	return preset, nil
}

// Slugs returns every known preset slug, for listing in CLI help text.
func Slugs() []string {
	slugs := make([]string, 0, len(presets))
	for slug := range presets {
		slugs = append(slugs, slug)
	}
	return slugs
}
