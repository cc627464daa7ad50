package flows

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nyaruka/gocommon/httpx"
)

// MediaRef is a media attachment inside flow response data. Files uploaded
// through a flow land on the WhatsApp CDN encrypted, with the decryption
// material published in the ref's encryption metadata.
type MediaRef struct {
	ID         string           `json:"media_id"`
	FileName   string           `json:"file_name"`
	CDNURL     string           `json:"cdn_url"`
	Encryption *MediaEncryption `json:"encryption_metadata"`
}

// Fetch downloads the encrypted file from the CDN and decrypts it. The CDN
// URL needs no auth header, the encryption metadata is the only secret.
func (m *MediaRef) Fetch(ctx context.Context, httpClient *http.Client) ([]byte, error) {
	if m.Encryption == nil {
		return nil, errors.New("media ref has no encryption metadata")
	}

	req, err := httpx.NewRequest("GET", m.CDNURL, nil, nil)
	if err != nil {
		return nil, err
	}
	trace, err := httpx.DoTrace(httpClient, req.WithContext(ctx), nil, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("error downloading cdn file: %w", err)
	}
	if trace.Response.StatusCode/100 != 2 {
		return nil, fmt.Errorf("cdn download returned status %d", trace.Response.StatusCode)
	}

	return DecryptMedia(trace.ResponseBody, m.Encryption)
}
