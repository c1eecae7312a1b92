package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"pacsbridge-rest/archive"
)

/*

 go run ./cmd/pacs_tool \
 -action=meta \
 -instance=0a9b3c7d-1e2f3a4b-5c6d7e8f-90a1b2c3-d4e5f6a7

 go run ./cmd/pacs_tool \
 -action=retrieve \
 -instance=0a9b3c7d-1e2f3a4b-5c6d7e8f-90a1b2c3-d4e5f6a7 \
 -out=instance.dcm

 go run ./cmd/pacs_tool \
 -action=frame \
 -instance=0a9b3c7d-1e2f3a4b-5c6d7e8f-90a1b2c3-d4e5f6a7 \
 -frame=3 \
 -out=frame3.raw

*/

func main() {
	var (
		instanceID = flag.String("instance", "", "archive instance identifier")
		action     = flag.String("action", "meta", "action: meta|retrieve|frame")
		frame      = flag.Int("frame", 1, "frame number (1-based) for -action=frame")
		output     = flag.String("out", "instance.dcm", "output file for retrieve/frame")
		archiveURL = flag.String("archive", "http://localhost:8042", "archive base URL")
		username   = flag.String("username", "", "archive basic-auth username")
		password   = flag.String("password", "", "archive basic-auth password")
	)
	flag.Parse()

	if *instanceID == "" {
		log.Fatal("-instance is required")
	}

	ctx := context.Background()
	client, err := archive.NewClient(*archiveURL, *username, *password)
	if err != nil {
		log.Fatalf("NewClient: %v", err)
	}

	switch *action {
	case "meta":
		tags, err := client.InstanceTags(ctx, *instanceID)
		if err != nil {
			log.Fatalf("InstanceTags: %v", err)
		}
		b, err := json.MarshalIndent(tags, "", "  ")
		if err != nil {
			log.Fatalf("MarshalIndent: %v", err)
		}
		fmt.Println(string(b))
	case "retrieve":
		resp, err := client.InstanceFile(ctx, *instanceID)
		if err != nil {
			log.Fatalf("InstanceFile: %v", err)
		}
		defer resp.Body.Close()
		writeBody(resp.Body, *output)
	case "frame":
		if *frame < 1 {
			log.Fatalf("-frame must be >= 1, got %d", *frame)
		}
		resp, err := client.InstanceFrameRaw(ctx, *instanceID, *frame-1)
		if err != nil {
			log.Fatalf("InstanceFrameRaw: %v", err)
		}
		defer resp.Body.Close()
		writeBody(resp.Body, *output)
	default:
		log.Fatalf("unknown -action %q (use meta|retrieve|frame)", *action)
	}
}

func writeBody(body io.Reader, path string) {
	out, err := os.Create(path)
	if err != nil {
		log.Fatalf("create %s: %v", path, err)
	}
	defer out.Close()

	n, err := io.Copy(out, body)
	if err != nil {
		log.Fatalf("write %s: %v", path, err)
	}
	fmt.Printf("Wrote %d bytes to %s\n", n, path)
}
