package upload

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
)

// ResolveEntityType picks the message type for a set of attachments: several
// files are media, one document-typed file is a document, otherwise the
// picker's kind or the MIME family decides.
func ResolveEntityType(files []File) chat.EntityType {
	if len(files) == 0 {
		return chat.EntityText
	}
	if len(files) > 1 {
		return chat.EntityMedia
	}
	f := files[0]
	ct := strings.ToLower(contentTypeOf(f))
	if chat.IsDocumentMime(ct) {
		return chat.EntityDocument
	}
	switch f.Kind {
	case chat.EntityPhoto, chat.EntityVideo:
		return f.Kind
	}
	switch {
	case strings.HasPrefix(ct, "image/"):
		return chat.EntityPhoto
	case strings.HasPrefix(ct, "video/"):
		return chat.EntityVideo
	default:
		return chat.EntityDocument
	}
}

// AttachmentMessage builds the body and payload of an attachment message.
// The payload describes the first file.
func AttachmentMessage(files []File, urls []string) (chat.EntityType, string, json.RawMessage, error) {
	if len(files) == 0 || len(urls) == 0 {
		return "", "", nil, fmt.Errorf("attachment message needs at least one uploaded file")
	}
	body, err := chat.EncodeAttachmentBody(urls)
	if err != nil {
		return "", "", nil, err
	}
	payload, err := json.Marshal(chat.AttachmentMeta{MimeType: contentTypeOf(files[0]), Name: files[0].Name})
	if err != nil {
		return "", "", nil, err
	}
	return ResolveEntityType(files), body, payload, nil
}
