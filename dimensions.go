package main

import (
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"

	"pacsbridge-rest/archive"
)

// Dimensions is a resolved, always-complete row/column pair.
type Dimensions struct {
	Rows    int
	Columns int
}

const (
	// fallbackDimension is substituted when no source yields a value.
	fallbackDimension = 512

	// bytesPerPixelAssumed is the sample depth assumed by the file-size
	// inference path.
	bytesPerPixelAssumed = 2

	// Dimension candidates searched by the file-size inference path.
	minInferredDimension = 100
	maxInferredDimension = 4000
)

// commonDimensions are square image sizes seen overwhelmingly often in
// medical imaging; an exact pixel-count match against this table beats
// the first divisor found.
var commonDimensions = []int{512, 256, 1024, 2048, 128, 320, 448, 640}

// DimensionResolver determines authoritative Rows/Columns for an
// instance from multiple, possibly conflicting, sources. SizeInference
// enables the file-size-based last-resort path; it ships disabled.
type DimensionResolver struct {
	SizeInference bool
}

// Resolve produces a complete (rows, columns) pair. Sources in
// descending priority: the instance's summary tags, the raw per-tag
// dictionary, the simplified flat view (fill-only), and, when enabled
// and everything else yielded nothing, a file-size inference. Missing
// values fall back to 512.
func (r DimensionResolver) Resolve(
	inst *archive.Instance,
	rawTags map[string]interface{},
	simplified map[string]interface{},
	stats *archive.InstanceStatistics,
) Dimensions {
	rows := 0
	cols := 0

	if inst != nil {
		rows = parsePositiveInt(inst.MainDicomTags["Rows"])
		cols = parsePositiveInt(inst.MainDicomTags["Columns"])
	}

	if rows == 0 {
		rows = rawTagInt(rawTags, tag.Rows)
	}
	if cols == 0 {
		cols = rawTagInt(rawTags, tag.Columns)
	}

	// The simplified view only fills what is still missing; it never
	// overrides the authoritative sources above.
	if rows == 0 {
		rows = simplifiedInt(simplified, "Rows")
	}
	if cols == 0 {
		cols = simplifiedInt(simplified, "Columns")
	}

	if rows == 0 && cols == 0 && r.SizeInference && stats != nil {
		if d, ok := inferDimensionsFromSize(stats.UncompressedSize); ok {
			return d
		}
	}

	if rows == 0 {
		rows = fallbackDimension
	}
	if cols == 0 {
		cols = fallbackDimension
	}
	return Dimensions{Rows: rows, Columns: cols}
}

// inferDimensionsFromSize derives dimensions from the archive's reported
// uncompressed byte size, assuming 2 bytes per pixel. It searches width
// candidates in [100, 4000) for an integer-dividing height in the same
// range, preferring an exact common-dimension match on pixel count.
func inferDimensionsFromSize(uncompressedSize int64) (Dimensions, bool) {
	if uncompressedSize <= 0 || uncompressedSize%bytesPerPixelAssumed != 0 {
		return Dimensions{}, false
	}
	pixels := uncompressedSize / bytesPerPixelAssumed

	for _, d := range commonDimensions {
		if int64(d)*int64(d) == pixels {
			return Dimensions{Rows: d, Columns: d}, true
		}
	}

	for w := int64(minInferredDimension); w < maxInferredDimension; w++ {
		if pixels%w != 0 {
			continue
		}
		h := pixels / w
		if h >= minInferredDimension && h < maxInferredDimension {
			return Dimensions{Rows: int(h), Columns: int(w)}, true
		}
	}
	return Dimensions{}, false
}

// parsePositiveInt parses s as a positive integer; anything else is 0.
func parsePositiveInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// rawTagInt reads an integer from the archive's raw tag dictionary,
// accepting both "0028,0010" and "00280010" key forms and string or
// numeric values.
func rawTagInt(rawTags map[string]interface{}, t tag.Tag) int {
	if rawTags == nil {
		return 0
	}
	key := tagKey(t)
	separated := key[:4] + "," + key[4:]

	for _, k := range []string{separated, key, strings.ToUpper(separated), strings.ToUpper(key)} {
		v, ok := rawTags[k]
		if !ok {
			continue
		}
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		if n := anyToPositiveInt(m["Value"]); n > 0 {
			return n
		}
	}
	return 0
}

// simplifiedInt reads an integer from the flat name-keyed tag view.
func simplifiedInt(simplified map[string]interface{}, name string) int {
	if simplified == nil {
		return 0
	}
	return anyToPositiveInt(simplified[name])
}

func anyToPositiveInt(v interface{}) int {
	switch t := v.(type) {
	case string:
		return parsePositiveInt(t)
	case float64:
		if t > 0 {
			return int(t)
		}
	case int:
		if t > 0 {
			return t
		}
	}
	return 0
}
