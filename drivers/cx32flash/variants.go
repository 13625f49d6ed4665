package cx32flash

import (
	_ "embed"
	"errors"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed variants.yaml
var rawVariants []byte

// DefaultVariant is the part assumed when none is named.
const DefaultVariant = "cx32l003f8"

var ErrUnknownVariant = errors.New("unknown chip variant")

// Variant is one row of the embedded part table.
type Variant struct {
	Name       string `yaml:"name"`
	Package    string `yaml:"package"`
	FlashSize  uint32 `yaml:"flashSize"`
	PageSize   uint32 `yaml:"pageSize"`
	SectorSize uint32 `yaml:"sectorSize"`
	RAMSize    uint32 `yaml:"ramSize"`
}

// Geometry is the array layout the driver validates against.
type Geometry struct {
	Size       uint32
	PageSize   uint32
	SectorSize uint32
}

func (v Variant) Geometry() Geometry {
	return Geometry{Size: v.FlashSize, PageSize: v.PageSize, SectorSize: v.SectorSize}
}

// Pages returns the number of erase pages in the array.
func (g Geometry) Pages() uint32 {
	if g.PageSize == 0 {
		return 0
	}
	return g.Size / g.PageSize
}

// Sectors returns the number of SLOCK sectors in the array.
func (g Geometry) Sectors() uint32 {
	if g.SectorSize == 0 {
		return 0
	}
	return g.Size / g.SectorSize
}

func (g Geometry) valid() bool {
	pow2 := func(v uint32) bool { return v != 0 && v&(v-1) == 0 }
	return pow2(g.PageSize) && pow2(g.SectorSize) && g.Size != 0 &&
		g.Size%g.SectorSize == 0 && g.SectorSize%g.PageSize == 0 && g.Sectors() <= 32
}

var variants []Variant

func init() {
	var t struct {
		Variants []Variant `yaml:"variants"`
	}
	if err := yaml.Unmarshal(rawVariants, &t); err != nil {
		panic(err)
	}
	variants = t.Variants
}

// Variants returns the embedded part table.
func Variants() []Variant {
	out := make([]Variant, len(variants))
	copy(out, variants)
	return out
}

// Lookup finds a variant by (case-insensitive) name.
func Lookup(name string) (Variant, error) {
	if name == "" {
		name = DefaultVariant
	}
	for _, v := range variants {
		if v.Name == strings.ToLower(name) {
			return v, nil
		}
	}
	return Variant{}, ErrUnknownVariant
}

// MustGeometry returns the geometry of a known variant and panics otherwise.
func MustGeometry(name string) Geometry {
	v, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return v.Geometry()
}
