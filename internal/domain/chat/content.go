package chat

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Content is the decoded form of a message body, one variant per entity type.
type Content interface {
	Kind() EntityType
	isContent()
}

type TextContent struct {
	Text string
}

type AttachmentContent struct {
	Type     EntityType
	URLs     []string
	MimeType string
	Name     string
}

type PostContent struct {
	PostID string
	Raw    json.RawMessage
}

type ProfileContent struct {
	ProfileID string
	Shared    bool
	Raw       json.RawMessage
}

func (TextContent) Kind() EntityType         { return EntityText }
func (c AttachmentContent) Kind() EntityType { return c.Type }
func (PostContent) Kind() EntityType         { return EntityPost }
func (c ProfileContent) Kind() EntityType {
	if c.Shared {
		return EntityShareProfile
	}
	return EntityProfile
}

func (TextContent) isContent()       {}
func (AttachmentContent) isContent() {}
func (PostContent) isContent()       {}
func (ProfileContent) isContent()    {}

// AttachmentMeta is the payload sent alongside attachment messages.
type AttachmentMeta struct {
	MimeType string `json:"mime_type"`
	Name     string `json:"name"`
}

// DecodeContent parses body/payload once at ingestion. It never fails: a body
// that does not match its entity type is kept as text.
func DecodeContent(et EntityType, body string, payload json.RawMessage) Content {
	switch et {
	case EntityPhoto, EntityVideo, EntityMedia, EntityDocument:
		urls, err := DecodeAttachmentBody(body)
		if err != nil {
			return TextContent{Text: body}
		}
		c := AttachmentContent{Type: et, URLs: urls}
		var meta AttachmentMeta
		if len(payload) > 0 && json.Unmarshal(payload, &meta) == nil {
			c.MimeType = meta.MimeType
			c.Name = meta.Name
		}
		return c
	case EntityPost:
		id, raw, ok := decodeRef(body, "post_id", "id", "_id")
		if !ok {
			return TextContent{Text: body}
		}
		return PostContent{PostID: id, Raw: raw}
	case EntityProfile, EntityShareProfile:
		id, raw, ok := decodeRef(body, "profile_id", "user_id", "id", "_id")
		if !ok {
			return TextContent{Text: body}
		}
		return ProfileContent{ProfileID: id, Shared: et == EntityShareProfile, Raw: raw}
	default:
		return TextContent{Text: body}
	}
}

// EncodeAttachmentBody renders URLs as the index->url object the backend stores.
func EncodeAttachmentBody(urls []string) (string, error) {
	m := make(map[string]string, len(urls))
	for i, u := range urls {
		m[strconv.Itoa(i)] = u
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeAttachmentBody returns URLs ordered by their numeric index.
func DecodeAttachmentBody(body string) ([]string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("empty attachment body")
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return nil, fmt.Errorf("decode attachment body: %w", err)
	}
	type entry struct {
		idx int
		url string
	}
	entries := make([]entry, 0, len(m))
	for k, v := range m {
		i, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("attachment index %q: %w", k, err)
		}
		entries = append(entries, entry{idx: i, url: v})
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].idx < entries[b].idx })
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.url)
	}
	return out, nil
}

func decodeRef(body string, keys ...string) (string, json.RawMessage, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return "", nil, false
	}
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return s, json.RawMessage(body), true
			}
		}
	}
	return "", nil, false
}
