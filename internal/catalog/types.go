// Package catalog defines core types shared across subsystems.
package catalog

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus represents the lifecycle state of a crawl run.
type RunStatus string

// Run status values persisted in the run history.
const (
	RunStatusIdle        RunStatus = "idle"
	RunStatusFetching    RunStatus = "fetching"
	RunStatusNormalizing RunStatus = "normalizing"
	RunStatusStoring     RunStatus = "storing"
	RunStatusSucceeded   RunStatus = "succeeded"
	RunStatusFailed      RunStatus = "failed"
)

// MovieRecord is the canonical shape of a movie after normalization.
// ID and Slug are stable across runs and serve as upsert keys.
type MovieRecord struct {
	ID         string            `json:"id"`
	Slug       string            `json:"slug"`
	Title      string            `json:"title"`
	OriginName string            `json:"origin_name,omitempty"`
	Synopsis   string            `json:"synopsis"`
	PosterURL  string            `json:"poster_url,omitempty"`
	ThumbURL   string            `json:"thumb_url,omitempty"`
	Year       int               `json:"year,omitempty"`
	Categories []string          `json:"categories,omitempty"`
	Countries  []string          `json:"countries,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ListingItem is one entry from the upstream catalog listing.
type ListingItem struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ListingPage is one page of the upstream catalog listing.
type ListingPage struct {
	Items      []ListingItem
	Page       int
	TotalPages int
	Raw        []byte
}

// Episode is one playable entry inside an episode server. The upstream adds
// fields freely (link_embed and friends), so the full raw object is kept and
// round-tripped; the named fields are a typed view over it.
type Episode struct {
	Name     string
	Slug     string
	Filename string
	LinkM3U8 string

	raw map[string]any
}

// UnmarshalJSON keeps the complete upstream object while extracting the
// fields the pipeline works with.
func (e *Episode) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.raw = raw
	e.Name, _ = raw["name"].(string)
	e.Slug, _ = raw["slug"].(string)
	e.Filename, _ = raw["filename"].(string)
	e.LinkM3U8, _ = raw["link_m3u8"].(string)
	return nil
}

// MarshalJSON re-emits every upstream field, with the typed view written
// back over it so sanitization of name/filename survives the round trip.
func (e Episode) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.raw)+4)
	for k, v := range e.raw {
		out[k] = v
	}
	out["name"] = e.Name
	out["slug"] = e.Slug
	out["filename"] = e.Filename
	out["link_m3u8"] = e.LinkM3U8
	return json.Marshal(out)
}

// Extra returns an upstream field outside the typed view.
func (e Episode) Extra(key string) (any, bool) {
	v, ok := e.raw[key]
	return v, ok
}

// EpisodeServer groups the episodes offered by one upstream server.
type EpisodeServer struct {
	ServerName string    `json:"server_name"`
	ServerData []Episode `json:"server_data"`
}

// DetailDocument is the raw per-movie payload returned by the upstream
// detail endpoint. Movie stays loosely typed because the upstream adds
// fields freely; the normalizer extracts the canonical subset.
type DetailDocument struct {
	Status   bool            `json:"status"`
	Msg      string          `json:"msg"`
	Movie    map[string]any  `json:"movie"`
	Episodes []EpisodeServer `json:"episodes"`
}

// StreamLink is one playable stream exposed to the consumer app.
type StreamLink struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Default bool   `json:"default"`
	URL     string `json:"url"`
}

// StreamDetail is the payload stored under a stream detail key.
type StreamDetail struct {
	StreamLinks []StreamLink `json:"stream_links"`
}

// RunCounters tracks per-run record accounting.
type RunCounters struct {
	Listed    int `json:"listed"`
	Upserted  int `json:"upserted"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// RunError records one per-record failure without aborting the run.
type RunError struct {
	Slug    string `json:"slug"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// RunResult is persisted for each run and published on completion.
type RunResult struct {
	ID         string      `json:"id"`
	Status     RunStatus   `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	ErrorText  string      `json:"error_text,omitempty"`
	Counters   RunCounters `json:"counters"`
	Errors     []RunError  `json:"errors,omitempty"`
}

// MovieKey returns the store key for a movie payload.
func MovieKey(prefix, slug string) string {
	return fmt.Sprintf("%s:movie_%s", prefix, slug)
}

// IDToSlugKey returns the store key for the id→slug alias.
func IDToSlugKey(prefix, id string) string {
	return fmt.Sprintf("%s:id_to_slug_%s", prefix, id)
}

// StreamDetailKey returns the store key for one episode stream payload.
func StreamDetailKey(prefix, movieID string, server, episode int) string {
	return fmt.Sprintf("%s:stream_detail_%s_%d_%d", prefix, movieID, server, episode)
}

// RegistryKey returns the set key that tracks every precached key.
func RegistryKey(prefix string) string {
	return prefix + ":precached_keys"
}
