// Package normalize maps raw upstream payloads into canonical records.
package normalize

import (
	"fmt"
	"strconv"

	"github.com/movieapp/moviecache-crawler/internal/catalog"
)

// MaxSynopsisRunes caps the stored synopsis length.
const MaxSynopsisRunes = 1000

// canonicalFields are movie payload fields extracted into dedicated
// MovieRecord fields rather than the attribute map.
var canonicalFields = map[string]struct{}{
	"_id":        {},
	"slug":       {},
	"name":       {},
	"origin_name": {},
	"content":    {},
	"poster_url": {},
	"thumb_url":  {},
	"year":       {},
	"category":   {},
	"country":    {},
}

// Movie validates and sanitizes a detail document in place and returns the
// canonical MovieRecord extracted from it. The document is mutated so that
// the payload later written to the store carries the sanitized text.
func Movie(doc *catalog.DetailDocument) (catalog.MovieRecord, error) {
	if doc == nil || doc.Movie == nil {
		return catalog.MovieRecord{}, catalog.NewValidationError("", "missing movie payload")
	}

	sanitizeMovie(doc.Movie)
	sanitizeEpisodes(doc.Episodes)
	truncateSynopsis(doc.Movie)

	slug := stringField(doc.Movie, "slug")
	if err := validate(doc.Movie, slug); err != nil {
		return catalog.MovieRecord{}, err
	}

	record := catalog.MovieRecord{
		ID:         stringField(doc.Movie, "_id"),
		Slug:       slug,
		Title:      stringField(doc.Movie, "name"),
		OriginName: stringField(doc.Movie, "origin_name"),
		Synopsis:   stringField(doc.Movie, "content"),
		PosterURL:  stringField(doc.Movie, "poster_url"),
		ThumbURL:   stringField(doc.Movie, "thumb_url"),
		Year:       intField(doc.Movie, "year"),
		Categories: nameList(doc.Movie["category"]),
		Countries:  nameList(doc.Movie["country"]),
		Attributes: scalarAttributes(doc.Movie),
	}
	return record, nil
}

func validate(movie map[string]any, slug string) error {
	required := []string{"_id", "name", "slug", "content"}
	for _, field := range required {
		if stringField(movie, field) == "" {
			return catalog.NewValidationError(slug, fmt.Sprintf("missing required field %q", field))
		}
	}
	for _, field := range []string{"category", "country"} {
		if raw, ok := movie[field]; ok {
			if _, isList := raw.([]any); !isList {
				return catalog.NewValidationError(slug, fmt.Sprintf("field %q must be a list", field))
			}
		}
	}
	if stringField(movie, "poster_url") == "" && stringField(movie, "thumb_url") == "" {
		return catalog.NewValidationError(slug, "missing poster and thumb URLs")
	}
	return nil
}

func sanitizeEpisodes(servers []catalog.EpisodeServer) {
	for si := range servers {
		for ei := range servers[si].ServerData {
			ep := &servers[si].ServerData[ei]
			ep.Name = String(ep.Name)
			ep.Filename = String(ep.Filename)
		}
	}
}

func truncateSynopsis(movie map[string]any) {
	content, ok := movie["content"].(string)
	if !ok {
		return
	}
	runes := []rune(content)
	if len(runes) > MaxSynopsisRunes {
		movie["content"] = string(runes[:MaxSynopsisRunes]) + "..."
	}
}

// StreamItem is one stream detail payload plus its key indices.
type StreamItem struct {
	Server  int
	Episode int
	Detail  catalog.StreamDetail
}

// StreamItems builds stream detail payloads for the trailing maxServers
// episode servers. Indices restart at zero for the retained tail, matching
// the key scheme the consumer app expects.
func StreamItems(movieID string, servers []catalog.EpisodeServer, maxServers int) []StreamItem {
	if maxServers > 0 && len(servers) > maxServers {
		servers = servers[len(servers)-maxServers:]
	}
	var items []StreamItem
	for si, server := range servers {
		for ei, ep := range server.ServerData {
			name := ep.Name
			if name == "" {
				name = fmt.Sprintf("Episode %d", ei+1)
			}
			streamID := fmt.Sprintf("%s_%d_%d", movieID, si, ei)
			items = append(items, StreamItem{
				Server:  si,
				Episode: ei,
				Detail: catalog.StreamDetail{
					StreamLinks: []catalog.StreamLink{{
						ID:      "default_" + streamID,
						Name:    name,
						Type:    "hls",
						Default: false,
						URL:     ep.LinkM3U8,
					}},
				},
			})
		}
	}
	return items
}

func stringField(m map[string]any, key string) string {
	if raw, ok := m[key]; ok {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return ""
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return 0
}

// nameList extracts the "name" of each entry from upstream taxonomy lists,
// which arrive either as plain strings or {id, name, slug} objects.
func nameList(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var names []string
	for _, entry := range list {
		switch v := entry.(type) {
		case string:
			names = append(names, v)
		case map[string]any:
			if name := stringField(v, "name"); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// scalarAttributes collects the remaining scalar movie fields so consumers
// keep access to upstream metadata without the record chasing every field.
func scalarAttributes(movie map[string]any) map[string]string {
	attrs := make(map[string]string)
	for key, raw := range movie {
		if _, canonical := canonicalFields[key]; canonical {
			continue
		}
		switch v := raw.(type) {
		case string:
			attrs[key] = v
		case float64:
			attrs[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			attrs[key] = strconv.FormatBool(v)
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}
