// Package library implements per-library settings.json: title, appearance,
// explorer layout, model selection, and optional S3 backing, loaded the way
// content-library/src/lib.rs's get_library_settings/set_library_settings did
// — except unknown fields survive a round trip instead of being dropped,
// and a missing or malformed field reverts to its default rather than
// failing the whole load.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lumenforge/contentbase/pkg/objstore"
)

const SettingsFileName = "settings.json"

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

type ExplorerLayout string

const (
	LayoutList  ExplorerLayout = "list"
	LayoutGrid  ExplorerLayout = "grid"
	LayoutMedia ExplorerLayout = "media"
)

// Models names the model a library uses for each capability (§4.3). The
// string is an opaque handle the Model Capability Layer's provider(s)
// resolve; contentbase does not validate it against a registry.
type Models struct {
	MultiModalEmbedding string `json:"multiModalEmbedding"`
	TextEmbedding       string `json:"textEmbedding"`
	ImageCaption        string `json:"imageCaption"`
	AudioTranscript     string `json:"audioTranscript"`
	LLM                 string `json:"llm"`
}

func defaultModels() Models {
	return Models{
		MultiModalEmbedding: "clip-multilingual-v1",
		TextEmbedding:       "clip-multilingual-v1",
		ImageCaption:        "blip-base",
		AudioTranscript:     "whisper-small",
		LLM:                 "llama3.1",
	}
}

// Settings is a library's settings.json, deserialized with defaults for
// anything missing or unparsable, per spec.md §6: "Unknown fields are
// preserved; missing fields revert to defaults."
type Settings struct {
	Title                            string             `json:"title"`
	AppearanceTheme                  Theme              `json:"appearanceTheme"`
	ExplorerLayout                   ExplorerLayout     `json:"explorerLayout"`
	Models                           Models             `json:"models"`
	S3Config                         *objstore.S3Config `json:"s3Config"`
	AlwaysDeleteLocalFileAfterUpload bool               `json:"alwaysDeleteLocalFileAfterUpload"`
}

// Default mirrors content-library's LibrarySettings::default(): an
// Untitled library in light theme with a list explorer and no S3 backing.
func Default() Settings {
	return Settings{
		Title:           "Untitled",
		AppearanceTheme: ThemeLight,
		ExplorerLayout:  LayoutList,
		Models:          defaultModels(),
	}
}

// Document is a loaded settings.json: the typed Settings view plus the raw
// field map it was read from, so Save can round-trip keys Settings doesn't
// know about instead of silently dropping them.
type Document struct {
	Settings Settings
	raw      map[string]any
}

// Load reads settings.json from files, falling back to Default() (wrapped
// in a fresh Document with no raw fields) when the file is absent,
// unreadable, or not valid JSON — matching get_library_settings's
// log-and-default behavior rather than failing the caller.
func Load(ctx context.Context, files objstore.Store) (Document, error) {
	data, err := files.Read(ctx, SettingsFileName)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return Document{Settings: Default(), raw: map[string]any{}}, nil
		}
		slog.Error("library: failed to open settings.json", "err", err)
		return Document{Settings: Default(), raw: map[string]any{}}, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Error("library: failed to parse settings.json", "err", err)
		return Document{Settings: Default(), raw: map[string]any{}}, nil
	}

	return Document{Settings: settingsFromRaw(raw), raw: raw}, nil
}

// settingsFromRaw decodes each known field independently so that one
// malformed field (e.g. an unrecognized appearanceTheme string) reverts
// only that field to its default instead of discarding the whole document,
// mirroring LibrarySettings's per-field Deserialize impl.
func settingsFromRaw(raw map[string]any) Settings {
	s := Default()

	if title, ok := raw["title"].(string); ok && title != "" {
		s.Title = title
	}
	if theme, ok := raw["appearanceTheme"].(string); ok {
		switch Theme(theme) {
		case ThemeLight, ThemeDark:
			s.AppearanceTheme = Theme(theme)
		}
	}
	if layout, ok := raw["explorerLayout"].(string); ok {
		switch ExplorerLayout(layout) {
		case LayoutList, LayoutGrid, LayoutMedia:
			s.ExplorerLayout = ExplorerLayout(layout)
		}
	}
	if models, ok := raw["models"]; ok {
		if decoded, err := decodeInto[Models](models); err == nil {
			s.Models = mergeModels(defaultModels(), decoded)
		}
	}
	if s3cfg, ok := raw["s3Config"]; ok && s3cfg != nil {
		if decoded, err := decodeInto[objstore.S3Config](s3cfg); err == nil {
			s.S3Config = &decoded
		}
	}
	if del, ok := raw["alwaysDeleteLocalFileAfterUpload"].(bool); ok {
		s.AlwaysDeleteLocalFileAfterUpload = del
	}

	return s
}

// mergeModels keeps defaults for any capability settings.json's models
// block left unset, rather than letting a partial block zero them out.
func mergeModels(def, got Models) Models {
	if got.MultiModalEmbedding == "" {
		got.MultiModalEmbedding = def.MultiModalEmbedding
	}
	if got.TextEmbedding == "" {
		got.TextEmbedding = def.TextEmbedding
	}
	if got.ImageCaption == "" {
		got.ImageCaption = def.ImageCaption
	}
	if got.AudioTranscript == "" {
		got.AudioTranscript = def.AudioTranscript
	}
	if got.LLM == "" {
		got.LLM = def.LLM
	}
	return got
}

func decodeInto[T any](v any) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}

// Save merges Settings back into the raw field map Load produced — so any
// field Load didn't recognize survives untouched — and writes it back to
// settings.json.
func Save(ctx context.Context, files objstore.Store, doc Document) error {
	merged := map[string]any{}
	for k, v := range doc.raw {
		merged[k] = v
	}

	encoded, err := decodeInto[map[string]any](doc.Settings)
	if err != nil {
		return fmt.Errorf("library: marshal settings: %w", err)
	}
	for k, v := range encoded {
		merged[k] = v
	}
	if doc.Settings.S3Config == nil {
		merged["s3Config"] = nil
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("library: marshal settings.json: %w", err)
	}
	if err := files.Write(ctx, SettingsFileName, data); err != nil {
		return fmt.Errorf("library: write settings.json: %w", err)
	}
	return nil
}

// Create writes a fresh settings.json for a new library: Default() with
// Title set to title, every field written out, so the next Load sees the
// given title and the default value for everything else.
func Create(ctx context.Context, files objstore.Store, title string) error {
	settings := Default()
	settings.Title = title
	return Save(ctx, files, Document{Settings: settings, raw: map[string]any{}})
}
