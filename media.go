package wacloud

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/h2non/filetype"
	"github.com/tulua/wacloud/utils"
)

// Media is an outbound media source. Exactly one of ID, URL, Path, Bytes or
// Reader is set; the send methods resolve it to a Graph media reference,
// uploading when the content is local.
type Media struct {
	ID     string
	URL    string
	Path   string
	Bytes  []byte
	Reader io.Reader

	// Filename is the name shown for documents, derived from Path or URL
	// when empty
	Filename string

	// MimeType is sniffed from the content when empty
	MimeType string
}

// MediaID references media already uploaded to the phone number.
func MediaID(id string) *Media { return &Media{ID: id} }

// MediaURL references media on a public URL, fetched by WhatsApp itself.
func MediaURL(url string) *Media { return &Media{URL: url} }

// MediaPath uploads media from a local file.
func MediaPath(path string) *Media { return &Media{Path: path} }

// MediaBytes uploads media from memory.
func MediaBytes(data []byte, filename string) *Media { return &Media{Bytes: data, Filename: filename} }

// MediaReader uploads media streamed from a reader.
func MediaReader(r io.Reader, filename string) *Media { return &Media{Reader: r, Filename: filename} }

// MediaResolutionError means a media source could not be turned into a
// sendable reference. The underlying upload or read error is wrapped.
type MediaResolutionError struct {
	Source string
	Err    error
}

func (e *MediaResolutionError) Error() string {
	return fmt.Sprintf("error resolving media from %s: %s", e.Source, e.Err)
}

func (e *MediaResolutionError) Unwrap() error { return e.Err }

// mediaRef is the wire reference of resolved media inside a message payload.
type mediaRef struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// resolveMedia turns a media source into a wire reference, walking the
// ladder: an ID or URL is passed through, everything else is uploaded first.
func (c *Client) resolveMedia(ctx context.Context, media *Media) (*mediaRef, error) {
	switch {
	case media.ID != "":
		return &mediaRef{ID: media.ID, Filename: media.Filename}, nil

	case media.URL != "":
		filename := media.Filename
		if filename == "" {
			filename, _ = utils.BasePathForURL(media.URL)
		}
		return &mediaRef{Link: media.URL, Filename: filename}, nil

	case media.Path != "":
		data, err := os.ReadFile(media.Path)
		if err != nil {
			return nil, &MediaResolutionError{Source: "path", Err: err}
		}
		filename := media.Filename
		if filename == "" {
			filename = filepath.Base(media.Path)
		}
		return c.uploadMedia(ctx, "path", data, filename, media.MimeType)

	case media.Bytes != nil:
		return c.uploadMedia(ctx, "bytes", media.Bytes, media.Filename, media.MimeType)

	case media.Reader != nil:
		data, err := io.ReadAll(media.Reader)
		if err != nil {
			return nil, &MediaResolutionError{Source: "reader", Err: err}
		}
		return c.uploadMedia(ctx, "reader", data, media.Filename, media.MimeType)
	}

	return nil, &MediaResolutionError{Source: "empty", Err: fmt.Errorf("media source has no content")}
}

func (c *Client) uploadMedia(ctx context.Context, source string, data []byte, filename, mimeType string) (*mediaRef, error) {
	if mimeType == "" {
		kind, err := filetype.Match(data)
		if err != nil || kind == filetype.Unknown {
			return nil, &MediaResolutionError{Source: source, Err: fmt.Errorf("unable to detect media type")}
		}
		mimeType = kind.MIME.Value
		if filename == "" {
			filename = "file." + kind.Extension
		}
	}
	if filename == "" {
		filename = "file"
	}

	mediaID, err := c.graph.UploadMedia(ctx, c.cfg.PhoneID, filename, mimeType, data)
	if err != nil {
		return nil, &MediaResolutionError{Source: source, Err: err}
	}
	return &mediaRef{ID: mediaID, Filename: filename}, nil
}

// DownloadMedia fetches the content of inbound media by its ID: resolve the
// short-lived URL, then download with the bearer token.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, error) {
	info, err := c.graph.GetMediaInfo(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	return c.graph.DownloadMedia(ctx, info.URL)
}
