package fetcher

import (
	"io"
	"mime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
)

// decodeBody wraps body with a UTF-8 decoder when the Content-Type declares
// another charset. Unknown charsets pass through untouched.
func decodeBody(body io.ReadCloser, contentType string) io.ReadCloser {
	if contentType == "" {
		return body
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body
	}
	charset := strings.ToLower(params["charset"])
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return body
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		zap.L().Warn("unsupported charset, reading raw bytes", zap.String("charset", charset))
		return body
	}

	return struct {
		io.Reader
		io.Closer
	}{enc.NewDecoder().Reader(body), body}
}
