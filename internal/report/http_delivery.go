package report

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strconv"
)

// ResponseDelivery streams the PDF to an HTTP client as an attachment.
type ResponseDelivery struct {
	W http.ResponseWriter
}

func (d ResponseDelivery) Deliver(ctx context.Context, name string, data []byte) (*LocalFileHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := d.W.Header()
	h.Set("Content-Type", "application/pdf")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	h.Set("Content-Length", strconv.Itoa(len(data)))
	h.Set("Cache-Control", "no-store")
	d.W.WriteHeader(http.StatusOK)
	n, err := d.W.Write(data)
	if err != nil {
		return nil, fmt.Errorf("%w: write response: %w", ErrResponseCommitted, err)
	}
	return &LocalFileHandle{Name: name, Size: n}, nil
}
