// Package media rewrites stored media references into client-facing URLs.
package media

import (
	"encoding/json"
	"net/url"
	"strings"
)

const processParameter = "x-oss-process"

// Config configures the image processing suffixes.
type Config struct {
	// BaseURL limits rewriting to objects served from the storage bucket.
	BaseURL       string
	ChatProcess   string
	AvatarProcess string
}

// Resolver appends image processing parameters to bucket URLs.
type Resolver struct {
	baseURL       string
	chatProcess   string
	avatarProcess string
}

// NewResolver constructs a Resolver. A zero Config yields a pass-through resolver.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{
		baseURL:       strings.TrimSpace(cfg.BaseURL),
		chatProcess:   strings.TrimSpace(cfg.ChatProcess),
		avatarProcess: strings.TrimSpace(cfg.AvatarProcess),
	}
}

// Strip removes any processing parameter so only the canonical object URL is stored.
func Strip(raw string) string {
	if raw == "" || !strings.Contains(raw, processParameter) {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	query := parsed.Query()
	query.Del(processParameter)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// Avatar returns the avatar-sized variant of an avatar URL.
func (r *Resolver) Avatar(raw string) string {
	if r == nil {
		return raw
	}
	return r.appendProcess(raw, r.avatarProcess)
}

// MessageMedia returns the display URL of a message attachment. Only image
// messages are rewritten.
func (r *Resolver) MessageMedia(raw, messageType string) string {
	if r == nil || strings.ToLower(messageType) != "image" {
		return raw
	}
	return r.appendProcess(raw, r.chatProcess)
}

// LiveMedia decodes a stored live attachment and returns the display cover
// and the video URL.
func (r *Resolver) LiveMedia(encoded string) (string, string) {
	cover, video := DecodeLive(encoded)
	if r != nil {
		cover = r.appendProcess(cover, r.chatProcess)
	}
	return cover, video
}

func (r *Resolver) appendProcess(raw, process string) string {
	if raw == "" || process == "" {
		return raw
	}
	if strings.Contains(raw, processParameter) {
		return raw
	}
	if r.baseURL == "" || !strings.HasPrefix(raw, r.baseURL) {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	suffix := processParameter + "=" + process
	if parsed.RawQuery == "" {
		parsed.RawQuery = suffix
	} else {
		parsed.RawQuery = parsed.RawQuery + "&" + suffix
	}
	return parsed.String()
}

type livePair struct {
	Cover string `json:"cover"`
	Video string `json:"video"`
}

// EncodeLive packs a live photo's cover and video into a single stored value.
// Both parts are stripped of processing parameters. It reports false when
// either part is missing.
func EncodeLive(cover, video string) (string, bool) {
	cover = Strip(strings.TrimSpace(cover))
	video = Strip(strings.TrimSpace(video))
	if cover == "" || video == "" {
		return "", false
	}
	encoded, err := json.Marshal(livePair{Cover: cover, Video: video})
	if err != nil {
		return "", false
	}
	return string(encoded), true
}

// DecodeLive unpacks a value produced by EncodeLive. Values that are not an
// encoded pair are treated as a bare cover URL.
func DecodeLive(encoded string) (string, string) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return "", ""
	}
	var pair livePair
	if strings.HasPrefix(encoded, "{") && json.Unmarshal([]byte(encoded), &pair) == nil {
		return pair.Cover, pair.Video
	}
	return encoded, ""
}
