package records

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/ehr/medrecords/internal/platform/blobstore"
)

var (
	errEmptyUpload     = errors.New("file data is empty")
	errMalformedUpload = errors.New("file data must be base64 or a base64 data URL")
)

// DecodeUpload turns an uploaded payload into an Attachment. data is either
// plain base64 or a data URL ("data:image/png;base64,..."); a content type
// carried by the data URL wins over contentType.
func DecodeUpload(fileName, contentType, data string) (*Attachment, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, errEmptyUpload
	}

	if rest, ok := strings.CutPrefix(data, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, errMalformedUpload
		}
		mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
		if !isBase64 {
			return nil, errMalformedUpload
		}
		if mediaType != "" {
			contentType = mediaType
		}
		data = payload
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(data)
		if err != nil {
			return nil, errMalformedUpload
		}
	}
	if len(raw) == 0 {
		return nil, errEmptyUpload
	}
	if len(raw) > blobstore.MaxFileSize {
		return nil, blobstore.ErrFileTooLarge
	}

	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if !blobstore.AllowedContentTypes[contentType] {
		return nil, blobstore.ErrInvalidContentType
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		fileName = "upload" + extensionFor(contentType)
	}
	return &Attachment{FileName: fileName, ContentType: contentType, Data: raw}, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/tiff":
		return ".tiff"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	}
	return ""
}
