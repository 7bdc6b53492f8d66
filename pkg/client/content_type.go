package client

import (
	"mime"
	"regexp"
)

const (
	ContentTypeApplicationJSON       = "application/json"
	ContentTypeApplicationJSONRegexp = `^application/([a-zA-Z0-9\.\-]+\+)?json$`
)

var jsonContentTypeRegexp = regexp.MustCompile(ContentTypeApplicationJSONRegexp)

func isJSONContentType(contentType string) bool {
	// Strip parameters, e.g. "; charset=utf-8"
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	return jsonContentTypeRegexp.MatchString(contentType)
}
