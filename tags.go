package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// VR is a DICOM value representation code.
type VR string

const (
	VRApplicationEntity VR = "AE"
	VRCodeString        VR = "CS"
	VRDate              VR = "DA"
	VRDateTime          VR = "DT"
	VRDecimalString     VR = "DS"
	VRIntegerString     VR = "IS"
	VRLongString        VR = "LO"
	VROtherByte         VR = "OB"
	VROtherWord         VR = "OW"
	VRPersonName        VR = "PN"
	VRSequence          VR = "SQ"
	VRShortString       VR = "SH"
	VRTime              VR = "TM"
	VRUniqueIdentifier  VR = "UI"
	VRUnsignedShort     VR = "US"
)

// Element is one normalized attribute in the binary-metadata wire format.
// Value is always a sequence, never a bare scalar; bulk binary attributes
// carry a BulkDataURI instead of an inline Value.
type Element struct {
	VR          VR            `json:"vr"`
	Value       []interface{} `json:"Value,omitempty"`
	BulkDataURI string        `json:"BulkDataURI,omitempty"`
}

// Dataset maps normalized 8-hex lowercase tag codes to elements.
type Dataset map[string]Element

// tagKey renders a DICOM tag as the wire-format key: 8 lowercase hex
// digits, no separators.
func tagKey(t tag.Tag) string {
	return fmt.Sprintf("%04x%04x", t.Group, t.Element)
}

var pixelDataKey = tagKey(tag.PixelData)

var tagKeyPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

// normalizeTagKey converts an archive tag key like "0028,0010" to the
// wire form "00280010". Returns "" for keys that are not 8 hex digits
// after stripping separators.
func normalizeTagKey(raw string) string {
	k := strings.ToLower(strings.TrimSpace(raw))
	k = strings.ReplaceAll(k, ",", "")
	k = strings.ReplaceAll(k, " ", "")
	if !tagKeyPattern.MatchString(k) {
		return ""
	}
	return k
}

// nativeTypeToVR maps the archive's coarse attribute type names to wire
// VR codes.
var nativeTypeToVR = map[string]VR{
	"String":     VRLongString,
	"Sequence":   VRSequence,
	"Integer":    VRIntegerString,
	"Float":      VRDecimalString,
	"Date":       VRDate,
	"Time":       VRTime,
	"DateTime":   VRDateTime,
	"PersonName": VRPersonName,
	"Binary":     VROtherByte,
}

// integerTags lists the tags whose string values are coerced to integers
// on the wire: image dimensions, bit depth, samples per pixel, and the
// frame count.
var integerTags = map[string]bool{
	tagKey(tag.Rows):            true,
	tagKey(tag.Columns):         true,
	tagKey(tag.BitsAllocated):   true,
	tagKey(tag.BitsStored):      true,
	tagKey(tag.HighBit):         true,
	tagKey(tag.SamplesPerPixel): true,
	tagKey(tag.NumberOfFrames):  true,
}

// requiredTag is an attribute every normalized dataset must carry;
// injected with a safe default when the archive omits it.
type requiredTag struct {
	key   string
	vr    VR
	value interface{}
}

var requiredTags = []requiredTag{
	{tagKey(tag.SpecificCharacterSet), VRCodeString, "ISO_IR 100"},
	{tagKey(tag.SOPClassUID), VRUniqueIdentifier, "1.2.840.10008.5.1.4.1.1.7"},
	{tagKey(tag.Modality), VRCodeString, "OT"},
	{tagKey(tag.PatientName), VRPersonName, "ANONYMOUS"},
	{tagKey(tag.PatientID), VRLongString, "UNKNOWN"},
	{tagKey(tag.SamplesPerPixel), VRUnsignedShort, 1},
	{tagKey(tag.PhotometricInterpretation), VRCodeString, "MONOCHROME2"},
	{tagKey(tag.BitsAllocated), VRUnsignedShort, 16},
	{tagKey(tag.BitsStored), VRUnsignedShort, 16},
	{tagKey(tag.HighBit), VRUnsignedShort, 15},
	{tagKey(tag.PixelRepresentation), VRUnsignedShort, 0},
	{tagKey(tag.WindowCenter), VRDecimalString, "128"},
	{tagKey(tag.WindowWidth), VRDecimalString, "256"},
}

// coerceValue converts one raw value for the given VR. Integer-string
// VRs get numeric coercion; everything else passes through unchanged.
func coerceValue(vr VR, v interface{}) interface{} {
	switch vr {
	case VRIntegerString, VRUnsignedShort:
		switch t := v.(type) {
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
				return n
			}
		case float64:
			return int(t)
		}
	}
	return v
}

// asValueSlice wraps v in a single-element sequence unless it already is
// one. Nil stays nil so empty attributes are emitted without a Value.
func asValueSlice(v interface{}) []interface{} {
	if v == nil {
		return nil
	}
	if s, ok := v.([]interface{}); ok {
		return s
	}
	return []interface{}{v}
}

// NormalizeTags converts the archive's native attribute dictionary for
// one instance into the normalized wire dataset. pixelDataURI is the
// payload reference substituted for the pixel-data attribute; inline
// pixel bytes are never transmitted through this channel. Malformed
// entries are skipped, never fatal.
func NormalizeTags(native map[string]interface{}, pixelDataURI string) Dataset {
	ds := make(Dataset, len(native)+len(requiredTags)+1)

	for rawKey, rawVal := range native {
		key := normalizeTagKey(rawKey)
		if key == "" {
			continue
		}
		// Group-length placeholders carry no payload on the wire.
		if strings.HasSuffix(key, "0000") {
			continue
		}

		el, ok := normalizeEntry(key, rawVal)
		if !ok {
			continue
		}
		ds[key] = el
	}

	for _, req := range requiredTags {
		if existing, ok := ds[req.key]; ok && len(existing.Value) > 0 && existing.Value[0] != "" {
			continue
		}
		ds[req.key] = Element{VR: req.vr, Value: []interface{}{req.value}}
	}

	// Pixel data always leaves as a payload reference, regardless of what
	// the archive reported for it.
	ds[pixelDataKey] = Element{VR: VROtherWord, BulkDataURI: pixelDataURI}

	return ds
}

// normalizeEntry converts one native attribute value into an Element.
// Entries that are already wire-shaped pass through; the archive's
// {Type, Value} shape is mapped via the fixed type table.
func normalizeEntry(key string, rawVal interface{}) (Element, bool) {
	m, ok := rawVal.(map[string]interface{})
	if !ok {
		return Element{}, false
	}

	// Already wire-shaped: vr plus Value and/or BulkDataURI.
	if vrStr, ok := m["vr"].(string); ok {
		el := Element{VR: VR(strings.ToUpper(vrStr))}
		if uri, ok := m["BulkDataURI"].(string); ok && uri != "" {
			el.BulkDataURI = uri
			return el, true
		}
		el.Value = asValueSlice(m["Value"])
		return el, true
	}

	typeName, ok := m["Type"].(string)
	if !ok {
		return Element{}, false
	}
	vr, ok := nativeTypeToVR[typeName]
	if !ok {
		vr = VRLongString
	}

	val := m["Value"]
	if vr != VRSequence && integerTags[key] {
		val = coerceValue(VRIntegerString, val)
		// The archive reports most attributes as plain strings; numeric
		// tags get their real numeric VR back.
		if key == tagKey(tag.NumberOfFrames) {
			vr = VRIntegerString
		} else {
			vr = VRUnsignedShort
		}
	}
	return Element{VR: vr, Value: asValueSlice(val)}, true
}
