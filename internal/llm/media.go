package llm

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
)

// Media is one inline binary part of a generation request.
type Media struct {
	MIMEType string
	Data     []byte
}

// Content is the caller-supplied study material: sanitized free text,
// zero or more base64 image payloads, and at most one base64 PDF.
// Payloads are pre-validated for size by the caller.
type Content struct {
	Text   string
	Images []string
	PDF    string
}

// ParseMedia decodes a base64 payload into its MIME type and raw
// bytes. A data:<mime>;base64,<data> prefix is honored when present;
// bare payloads default to application/pdf.
func ParseMedia(payload string) (Media, error) {
	mimeType := "application/pdf"
	data := payload

	if strings.HasPrefix(payload, "data:") {
		semi := strings.Index(payload, ";")
		comma := strings.Index(payload, ",")
		if semi > 5 && comma > semi {
			mimeType = payload[5:semi]
			data = payload[comma+1:]
		}
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Media{}, fmt.Errorf("decode base64 payload: %w", err)
	}
	return Media{MIMEType: mimeType, Data: raw}, nil
}

// mediaParts decodes all attachments into request parts. Images are
// independent and order-insensitive, so they are decoded concurrently;
// the result preserves input order, with the PDF last.
func (c Content) mediaParts() ([]Media, error) {
	images := make([]Media, len(c.Images))
	errs := make([]error, len(c.Images))

	var wg sync.WaitGroup
	for i, payload := range c.Images {
		wg.Add(1)
		go func(i int, payload string) {
			defer wg.Done()
			images[i], errs[i] = ParseMedia(payload)
		}(i, payload)
	}
	wg.Wait()

	var parts []Media
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		parts = append(parts, images[i])
	}

	if c.PDF != "" {
		pdf, err := ParseMedia(c.PDF)
		if err != nil {
			return nil, fmt.Errorf("pdf: %w", err)
		}
		pdf.MIMEType = "application/pdf"
		parts = append(parts, pdf)
	}
	return parts, nil
}
