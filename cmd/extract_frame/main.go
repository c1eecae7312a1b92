package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Pulls the first part out of a captured multipart/related response body
// (as saved by pacs_tool or curl against a standard DICOMweb endpoint)
// and, when the part is a DICOM file, prints its identifying tags.
func main() {
	var (
		inPath      = flag.String("in", "testdata/web_instance.bin", "captured multipart body")
		outPath     = flag.String("out", "testdata/web_instance.dcm", "output file for first part")
		contentType = flag.String("content-type", "", `full Content-Type header value, e.g. multipart/related; boundary=...; type="application/dicom"`)
	)
	flag.Parse()

	if *contentType == "" {
		panic("-content-type is required (copy it from the response headers)")
	}

	f, err := os.Open(*inPath)
	if err != nil {
		panic(fmt.Errorf("open %s: %w", *inPath, err))
	}
	defer f.Close()

	mediaType, params, err := mime.ParseMediaType(*contentType)
	if err != nil {
		panic(fmt.Errorf("ParseMediaType: %w", err))
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		panic(fmt.Errorf("not multipart, got %q", mediaType))
	}

	boundary := params["boundary"]
	if boundary == "" {
		panic("no boundary in Content-Type")
	}

	// The input file must be exactly the response body, no HTTP headers.
	reader := multipart.NewReader(bufio.NewReader(f), boundary)

	part, err := reader.NextPart()
	if err == io.EOF {
		panic("no parts found in multipart")
	}
	if err != nil {
		panic(fmt.Errorf("NextPart: %w", err))
	}
	defer part.Close()

	hdr := textproto.MIMEHeader(part.Header)
	fmt.Println("First part headers:")
	for k, v := range hdr {
		fmt.Printf("  %s: %s\n", k, strings.Join(v, ", "))
	}

	out, err := os.Create(*outPath)
	if err != nil {
		panic(fmt.Errorf("create %s: %w", *outPath, err))
	}
	defer out.Close()

	n, err := io.Copy(out, part)
	if err != nil {
		panic(fmt.Errorf("write %s: %w", *outPath, err))
	}
	fmt.Printf("Wrote first part (%d bytes) to %s\n", n, *outPath)

	printIdentity(*outPath, n)
}

// printIdentity parses the extracted file as DICOM and prints the UID
// triple plus pixel geometry, skipping pixel data for speed.
func printIdentity(path string, size int64) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("reopen %s: %v\n", path, err)
		return
	}
	defer f.Close()

	ds, err := dicom.Parse(f, size, nil, dicom.SkipPixelData())
	if err != nil {
		fmt.Printf("not parseable as DICOM (%v), leaving raw file\n", err)
		return
	}

	for _, t := range []tag.Tag{
		tag.StudyInstanceUID,
		tag.SeriesInstanceUID,
		tag.SOPInstanceUID,
		tag.Modality,
		tag.Rows,
		tag.Columns,
		tag.NumberOfFrames,
	} {
		if v := tagValueString(&ds, t); v != "" {
			info, _ := tag.Find(t)
			fmt.Printf("  %s: %s\n", info.Name, v)
		}
	}
}

// tagValueString extracts the first value for the given tag from the
// dataset, so we print clean values like "CT" or "1.2.840...." instead
// of the verbose Element.String() representation. Handles both string
// and integer VRs.
func tagValueString(ds *dicom.Dataset, t tag.Tag) string {
	if ds == nil {
		return ""
	}
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil {
		return ""
	}
	switch v := el.Value.GetValue().(type) {
	case []string:
		if len(v) == 0 {
			return ""
		}
		return strings.TrimSpace(v[0])
	case []int:
		if len(v) == 0 {
			return ""
		}
		return strconv.Itoa(v[0])
	}
	return strings.TrimSpace(el.Value.String())
}
